// Package logger wraps zap construction so the rest of the server only
// deals with a ready *zap.Logger.
package logger

import "go.uber.org/zap"

// Logger holds the process-wide zap logger.
type Logger struct {
	Log *zap.Logger
}

// New returns a Logger with a no-op zap instance; call Init before use.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init replaces the logger with a production zap logger at the given level
// ("debug", "info", "warn", "error"). Unknown levels default to info.
func (l *Logger) Init(level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	log, err := cfg.Build()
	if err != nil {
		return err
	}
	l.Log = log
	return nil
}
