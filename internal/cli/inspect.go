package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

func newInspectCmd() *cobra.Command {
	var (
		after      string
		before     string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print record, tick group and timing statistics for a dataset",
		Long: `Loads a dataset the way the server does and reports how it would replay:
how many tick groups it has, the largest group, and the smallest and largest
gap between consecutive groups.`,
		Example: `  tickreplay inspect trades_sample.parquet
  tickreplay inspect trades.ndjson --after 2024-01-01T09:30:00Z --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := dataset.LoadFile(args[0])
			if err != nil {
				return err
			}
			dataset.SortByTimestamp(records)

			filter := &dataset.Filter{}
			if filter.After, err = parseTime("after", after); err != nil {
				return err
			}
			if filter.Before, err = parseTime("before", before); err != nil {
				return err
			}
			stats := dataset.Summarize(filter.Apply(records))

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Fprintf(out, "File:          %s\n", args[0])
			fmt.Fprintf(out, "Records:       %d\n", stats.Records)
			fmt.Fprintf(out, "Tick groups:   %d\n", stats.Groups)
			if stats.Records == 0 {
				return nil
			}
			fmt.Fprintf(out, "Largest group: %d\n", stats.LargestGroup)
			fmt.Fprintf(out, "First:         %s\n", stats.First.Format(time.RFC3339Nano))
			fmt.Fprintf(out, "Last:          %s\n", stats.Last.Format(time.RFC3339Nano))
			fmt.Fprintf(out, "Span:          %s\n", stats.Span)
			if stats.Groups > 1 {
				fmt.Fprintf(out, "Min gap:       %s\n", stats.MinGap)
				fmt.Fprintf(out, "Max gap:       %s\n", stats.MaxGap)
			}
			fmt.Fprintf(out, "Columns:       %s\n", strings.Join(stats.Columns, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "only count trades at or after this time")
	cmd.Flags().StringVar(&before, "before", "", "only count trades before this time")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output statistics as JSON")

	return cmd
}
