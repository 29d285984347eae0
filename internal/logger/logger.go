// Package logger builds the process-wide zap logger.
package logger

import (
    "fmt"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// New returns a logger at the given level ("debug", "info", "warn", "error").
// format is "json" or "console".
func New(level, format string) (*zap.Logger, error) {
    lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
    if err != nil {
        return nil, fmt.Errorf("log level %q: %w", level, err)
    }

    var cfg zap.Config
    switch strings.ToLower(format) {
    case "", "json":
        cfg = zap.NewProductionConfig()
    case "console", "text":
        cfg = zap.NewDevelopmentConfig()
    default:
        return nil, fmt.Errorf("log format %q: want json or console", format)
    }
    cfg.Level = zap.NewAtomicLevelAt(lvl)
    cfg.EncoderConfig.TimeKey = "ts"
    cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

    return cfg.Build()
}
