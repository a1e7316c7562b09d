package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options describe the static fields and level of the process logger.
type Options struct {
	Level       string
	ServiceName string
	Environment string
	Version     string
}

// New builds a structured zap.Logger using the provided level (info, warn, debug, error).
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := opts.Level
	if level == "" {
		level = "info"
	}

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	service := opts.ServiceName
	if service == "" {
		service = "loyalty"
	}
	logger = logger.With(
		zap.String("service", service),
		zap.String("env", opts.Environment),
		zap.String("version", opts.Version),
	)

	zap.ReplaceGlobals(logger)
	return logger, nil
}
