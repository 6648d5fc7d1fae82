// Package logger builds the zap loggers used across labcore.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New instantiates a zap logger. level is one of debug, info, warn or error
// (default info); format "console" selects the development encoder,
// anything else JSON.
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || level == "" {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Must is a helper that panics when the logger cannot be created.
func Must(logger *zap.Logger, err error) *zap.Logger {
	if err != nil {
		panic(err)
	}
	return logger
}

// Named returns a child logger with the provided component name.
func Named(base *zap.Logger, component string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(component)
}

// KV adapts a zap logger to the key-value logging interface the service
// layer accepts: Debug(msg, "key", value, ...).
type KV struct {
	s *zap.SugaredLogger
}

// NewKV wraps base. A nil base discards everything.
func NewKV(base *zap.Logger) KV {
	if base == nil {
		base = zap.NewNop()
	}
	return KV{s: base.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l KV) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l KV) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l KV) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l KV) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
