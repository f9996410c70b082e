// Package logger is the process-wide structured logger. Events are emitted as
// single JSON lines; the *J helpers take an event name plus a flat field map,
// which keeps call sites short and grep-friendly.
package logger

import (
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  atomic.Pointer[zap.Logger]
)

func init() { base.Store(newJSON(zapcore.Lock(os.Stderr))) }

func newJSON(ws zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, level)
	return zap.New(core)
}

// L returns the underlying zap logger.
func L() *zap.Logger { return base.Load() }

// Replace swaps the underlying logger and returns a func restoring the old one.
func Replace(l *zap.Logger) (restore func()) {
	if l == nil {
		return func() {}
	}
	prev := base.Swap(l)
	return func() { base.Store(prev) }
}

// SetOutput redirects JSON output to ws (tests use a buffer).
func SetOutput(ws zapcore.WriteSyncer) { base.Store(newJSON(ws)) }

// SetLevel accepts debug, info, warn or error.
func SetLevel(s string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

func Debug(msg string) { L().Debug(msg) }
func Info(msg string)  { L().Info(msg) }
func Warn(msg string)  { L().Warn(msg) }
func Error(msg string) { L().Error(msg) }

// InfoJ logs event with the given fields at info level.
func InfoJ(event string, fields map[string]any) { L().Info(event, toFields(fields)...) }

// WarnJ logs event with the given fields at warn level.
func WarnJ(event string, fields map[string]any) { L().Warn(event, toFields(fields)...) }

// ErrorJ logs event with the given fields at error level.
func ErrorJ(event string, fields map[string]any) { L().Error(event, toFields(fields)...) }

// Sync flushes buffered output.
func Sync() { _ = L().Sync() }

// toFields sorts keys so that output is stable across runs.
func toFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}
