package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log formats.
const (
	LogFormatStructured = "structured"
	LogFormatConsole    = "console"
)

var logLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

var logEncodings = map[string]string{
	LogFormatStructured: "json",
	LogFormatConsole:    "console",
}

// NewLogger builds a production zap logger writing to
// stderr at level, in the given format.
func NewLogger(level string, format string) (*zap.Logger, error) {
	const errCtx = "creating logger"

	lvl, ok := logLevels[level]
	if !ok {
		return nil, fmt.Errorf(
			"%s: unsupported log level %q", errCtx, level,
		)
	}

	encoding, ok := logEncodings[format]
	if !ok {
		return nil, fmt.Errorf(
			"%s: unsupported log format %q", errCtx, format,
		)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = encoding

	if format == LogFormatConsole {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return logger, nil
}
