// Package zaplog adapts a zap logger to identity.Logger.
package zaplog

import (
	"fmt"
	"strings"

	identity "github.com/goliatone/go-identity"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger forwards printf style calls to a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ identity.Logger = (*Logger)(nil)

// New wraps logger. A nil logger uses zap.NewNop.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sugar: logger.Named("identity").Sugar()}
}

// Build creates a production (json) or development (console) zap logger at
// the given level.
func Build(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("zaplog: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func (l *Logger) Debug(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key value pairs.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}
