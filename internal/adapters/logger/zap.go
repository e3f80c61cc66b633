// Package logger provides the zap-backed implementation of the application
// logging interface.
package logger

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter adapts a zap logger to the application's logging interface.
type ZapAdapter struct {
	log *zap.SugaredLogger
}

// NewZapAdapter creates a new ZapAdapter wrapping the given logger.
func NewZapAdapter(log *zap.Logger) *ZapAdapter {
	return &ZapAdapter{log: log.Sugar()}
}

// NewZapLogger builds the production zap logger used by the CLI: console
// encoding on stderr (stdout is reserved for report output), with the level
// parsed from the given string.
func NewZapLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Info logs an info message.
func (a *ZapAdapter) Info(_ context.Context, msg string, fields map[string]any) {
	a.log.Infow(msg, flatten(fields)...)
}

// Debug logs a debug message.
func (a *ZapAdapter) Debug(_ context.Context, msg string, fields map[string]any) {
	a.log.Debugw(msg, flatten(fields)...)
}

// Warn logs a warning message.
func (a *ZapAdapter) Warn(_ context.Context, msg string, fields map[string]any) {
	a.log.Warnw(msg, flatten(fields)...)
}

// Error logs an error message.
func (a *ZapAdapter) Error(_ context.Context, msg string, err error, fields map[string]any) {
	kv := flatten(fields)
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	a.log.Errorw(msg, kv...)
}

// flatten converts a field map into zap's key-value pairs, sorted by key so
// log lines are stable.
func flatten(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}
