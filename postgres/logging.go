package postgres

import (
	"go.uber.org/zap"
)

// Logger is a thin wrapper over zap's SugaredLogger, matching the
// msg-plus-keyvals call shape used throughout this package.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger wraps a *zap.Logger.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sugar: l.Sugar()}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// NewProductionLogger builds a Logger suitable for production use, falling
// back to a no-op logger if zap fails to build one.
func NewProductionLogger() *Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return NewNopLogger()
	}
	return NewLogger(l)
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, kv ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugw(msg, kv...)
}

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, kv ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infow(msg, kv...)
}

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, kv ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnw(msg, kv...)
}

// Error logs at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, kv ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorw(msg, kv...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.sugar == nil {
		return nil
	}
	return l.sugar.Sync()
}
