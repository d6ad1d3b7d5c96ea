package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tickreplay/internal/config"
	"github.com/SmitUplenchwar2687/tickreplay/internal/generate"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample trade datasets and config",
		Long: `Generates sample data for testing and experimentation.

Use "generate trades" to create a synthetic trade dataset.
Use "generate config" to create an example config JSON file.`,
	}

	cmd.AddCommand(newGenerateTradesCmd(), newGenerateConfigCmd())
	return cmd
}

func newGenerateTradesCmd() *cobra.Command {
	d := generate.DefaultOptions()
	var (
		output     string
		count      int
		symbols    []string
		duration   time.Duration
		pattern    string
		start      string
		seed       int64
		resolution time.Duration
		startPrice string
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Generate a synthetic trade dataset",
		Long: `Creates a trade dataset with a random price walk per symbol. The output
format follows the file extension: .parquet, .json, .jsonl or .ndjson.

Patterns:
  steady    Evenly spaced trades
  burst     Clusters of trades with quiet gaps
  ramp      Trades getting denser over time

Timestamps are truncated to --resolution so that trades share ticks.`,
		Example: `  tickreplay generate trades --output trades_sample.parquet
  tickreplay generate trades --output burst.ndjson --count 5000 --pattern burst --duration 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := generate.Options{
				Count:      count,
				Symbols:    symbols,
				Duration:   duration,
				Pattern:    pattern,
				Seed:       seed,
				Resolution: resolution,
			}
			var err error
			if opts.Start, err = parseTime("start", start); err != nil {
				return err
			}
			if opts.StartPrice, err = decimal.NewFromString(startPrice); err != nil {
				return fmt.Errorf("invalid --start-price value %q: %w", startPrice, err)
			}

			trades, err := generate.Trades(opts)
			if err != nil {
				return err
			}
			if err := generate.WriteFile(output, trades); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d trades to %s\n", len(trades), output)
			fmt.Fprintf(out, "  Symbols:  %v\n", symbols)
			fmt.Fprintf(out, "  Duration: %s\n", duration)
			fmt.Fprintf(out, "  Pattern:  %s\n", pattern)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", config.Default().Source.File.Path, "output file path")
	cmd.Flags().IntVar(&count, "count", d.Count, "number of trades to generate")
	cmd.Flags().StringSliceVar(&symbols, "symbols", d.Symbols, "symbols to trade")
	cmd.Flags().DurationVar(&duration, "duration", d.Duration, "time span of the dataset")
	cmd.Flags().StringVar(&pattern, "pattern", d.Pattern, "trade pattern (steady, burst, ramp)")
	cmd.Flags().StringVar(&start, "start", "", "timestamp of the first trade (default: now)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().DurationVar(&resolution, "resolution", d.Resolution, "timestamp granularity")
	cmd.Flags().StringVar(&startPrice, "start-price", d.StartPrice.String(), "initial price of every symbol")

	return cmd
}

func newGenerateConfigCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Generate an example config JSON file",
		Example: `  tickreplay generate config --output tickreplay.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated example config at %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "tickreplay.json", "output file path")
	return cmd
}
