// Package logging builds the process logger. The logger is created once in
// the CLI layer and handed to every component that logs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels accepted by New, lowest first.
var Levels = []string{"debug", "info", "warn", "error"}

// ParseLevel maps a level name to a zap level. "warning" and "critical"
// are accepted as aliases for warn and error.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error", "critical":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q, must be one of: %s", level, strings.Join(Levels, ", "))
	}
}

// New returns a console logger writing to stderr at the given level.
func New(level string) (*zap.SugaredLogger, error) {
	return NewWriter(os.Stderr, level)
}

// NewWriter returns a console logger writing to w. Lines look like
// "2024-01-01T09:00:00.000Z  INFO  message  key=value".
func NewWriter(w io.Writer, level string) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(lvl),
	)
	return zap.New(core).Sugar(), nil
}
