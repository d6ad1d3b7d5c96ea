package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tickreplay/internal/client"
	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/config"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/recorder"
)

func newClientCmd() *cobra.Command {
	var (
		configPath      string
		host            string
		port            int
		showFirstN      int
		summaryInterval int
		logLevel        string
		recordPath      string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a replay server and log what arrives",
		Long: `Connects to a tickreplay server, logs status messages, the first N
trades verbatim and a running count every M trades, and stops when the
server reports "Replay finished." or the connection closes.`,
		Example: `  tickreplay client
  tickreplay client --host replay.internal --port 9000 --show-first-n 0 --summary-interval 1000
  tickreplay client --record received.ndjson`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("show-first-n") {
				cfg.Client.ShowFirstN = showFirstN
			}
			if cmd.Flags().Changed("summary-interval") {
				cfg.Client.SummaryInterval = summaryInterval
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cmd, cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var rec *recorder.Recorder
			if recordPath != "" {
				if format, err := dataset.FormatFromPath(recordPath); err != nil || format != dataset.FormatNDJSON {
					return fmt.Errorf("--record must be a .ndjson or .jsonl file, got %q", recordPath)
				}
				f, err := os.Create(recordPath)
				if err != nil {
					return fmt.Errorf("creating record file: %w", err)
				}
				defer f.Close()
				rec = recorder.New(f, clock.NewRealClock())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ccfg := client.Config{
				URL:             client.URLFor(cfg.Server.Host, cfg.Server.Port),
				ShowFirstN:      cfg.Client.ShowFirstN,
				SummaryInterval: cfg.Client.SummaryInterval,
			}
			if rec != nil {
				ccfg.Recorder = rec
			}
			if _, err := client.New(ccfg, logger).Run(ctx); err != nil {
				return err
			}
			if rec != nil {
				logger.Infof("Recorded %d trades to %s", rec.Len(), recordPath)
			}
			return nil
		},
	}

	d := config.Default()
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&host, "host", d.Server.Host, "server host")
	cmd.Flags().IntVar(&port, "port", d.Server.Port, "server port")
	cmd.Flags().IntVar(&showFirstN, "show-first-n", d.Client.ShowFirstN, "log the first N trades in detail")
	cmd.Flags().IntVar(&summaryInterval, "summary-interval", d.Client.SummaryInterval, "log a summary every N trades")
	cmd.Flags().StringVar(&recordPath, "record", "", "write received trades to this NDJSON file")
	addLogLevelFlag(cmd, &logLevel)

	return cmd
}
