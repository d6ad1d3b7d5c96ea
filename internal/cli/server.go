package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/config"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/limiter"
	"github.com/SmitUplenchwar2687/tickreplay/internal/metrics"
	"github.com/SmitUplenchwar2687/tickreplay/internal/server"
)

func newServerCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		queueSize  int
		speed      float64
		after      string
		before     string
		logLevel   string
		sessions   int
		burst      int
		proxies    []string
		source     sourceOptions
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve a trade dataset to websocket consumers",
		Long: `Starts a websocket server. Every connection loads the dataset, receives
{"status": "Data loaded. Starting replay."}, then every trade as its own
JSON message paced by the original timestamps, and finally
{"status": "Replay finished."}.

Endpoints:
  WS  /          Replay stream (also at /ws)
  GET /          Server info
  GET /health    Health check
  GET /metrics   Prometheus metrics`,
		Example: `  tickreplay server
  tickreplay server --trade-file trades.parquet --port 9000
  tickreplay server --trade-file trades.ndjson --speed 10 --after 2024-01-01T09:30:00Z
  tickreplay server --sessions-per-minute 10 --session-burst 3
  tickreplay server --sessions-per-minute 10 --trusted-proxies 10.0.0.0/8
  tickreplay server --source redis --redis-host localhost:6379 --redis-key tickreplay:trades
  tickreplay server --config tickreplay.json`,
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
			if cmd.Flags().Changed("sessions-per-minute") {
				cfg.Server.SessionsPerMinute = sessions
			}
			if cmd.Flags().Changed("session-burst") {
				cfg.Server.SessionBurst = burst
			}
			if cmd.Flags().Changed("trusted-proxies") {
				cfg.Server.TrustedProxies = proxies
			}
			if cmd.Flags().Changed("max-queue-size") {
				cfg.Replay.QueueSize = queueSize
			}
			if cmd.Flags().Changed("speed") {
				cfg.Replay.Speed = speed
			}
			if cmd.Flags().Changed("after") {
				if cfg.Replay.After, err = parseTime("after", after); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("before") {
				if cfg.Replay.Before, err = parseTime("before", before); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			source.applyTo(cmd, &cfg.Source)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServer(cmd, cfg)
		},
	}

	d := config.Default()
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&host, "host", d.Server.Host, "host to bind")
	cmd.Flags().IntVar(&port, "port", d.Server.Port, "port to bind")
	cmd.Flags().IntVar(&sessions, "sessions-per-minute", 0, "max new sessions per remote host per minute (0 = unlimited)")
	cmd.Flags().IntVar(&burst, "session-burst", 0, "session burst per remote host (0 = same as sessions-per-minute)")
	cmd.Flags().StringSliceVar(&proxies, "trusted-proxies", nil, "proxy addresses or CIDRs whose X-Forwarded-For is trusted")
	cmd.Flags().IntVar(&queueSize, "max-queue-size", d.Replay.QueueSize, "tick groups buffered ahead of the sender")
	cmd.Flags().Float64Var(&speed, "speed", d.Replay.Speed, "replay speed multiplier (2 = twice as fast)")
	cmd.Flags().StringVar(&after, "after", "", "only replay trades at or after this time")
	cmd.Flags().StringVar(&before, "before", "", "only replay trades before this time")
	addLogLevelFlag(cmd, &logLevel)
	source.addFlags(cmd)

	return cmd
}

func runServer(cmd *cobra.Command, cfg config.Config) error {
	logger, err := newLogger(cmd, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	src, closeSource, err := openSource(cfg.Source)
	if err != nil {
		return err
	}
	defer closeSource()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var filter *dataset.Filter
	if !cfg.Replay.After.IsZero() || !cfg.Replay.Before.IsZero() {
		filter = &dataset.Filter{After: cfg.Replay.After, Before: cfg.Replay.Before}
	}

	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	clk := clock.NewRealClock()
	opts := server.Options{
		Source:         src,
		Filter:         filter,
		QueueSize:      cfg.Replay.QueueSize,
		Speed:          cfg.Replay.Speed,
		Clock:          clk,
		TrustedProxies: proxies,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
	}
	if cfg.Server.SessionsPerMinute > 0 {
		opts.Limiter = limiter.NewSessionLimiter(cfg.Server.SessionsPerMinute, time.Minute, cfg.Server.SessionBurst, clk)
	}
	srv := server.New(cfg.Server.Addr(), opts, logger)

	ln, err := srv.Listen()
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.Server.Addr(), err)
	}
	logger.Infof("Serving %s (queue size %d, speed %gx)", src.Name(), cfg.Replay.QueueSize, cfg.Replay.Speed)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.StartOnListener(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Server stopped by user.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
