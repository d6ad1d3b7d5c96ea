package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/config"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/logging"
)

// loadConfig returns the defaults, or the defaults merged with path when
// path is set.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVar(path, "config", "", "path to JSON config file")
}

func addLogLevelFlag(cmd *cobra.Command, level *string) {
	cmd.Flags().StringVar(level, "log-level", config.Default().Log.Level, "log level (debug, info, warn, error)")
}

// newLogger builds the process logger on the command's error stream.
func newLogger(cmd *cobra.Command, level string) (*zap.SugaredLogger, error) {
	return logging.NewWriter(cmd.ErrOrStderr(), level)
}

// parseTime parses an optional --after/--before value. Empty means unset.
func parseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := dataset.ParseTimestamp(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: %w", name, value, err)
	}
	return t, nil
}
