package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = mustBuild(zapcore.InfoLevel)
)

func build(level zapcore.Level, outputs []string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(outputs) > 0 {
		cfg.OutputPaths = outputs
		cfg.ErrorOutputPaths = outputs
	}
	return cfg.Build(zap.AddCallerSkip(1))
}

func mustBuild(level zapcore.Level) *zap.Logger {
	l, err := build(level, nil)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Init replaces the global logger. level is one of debug, info, warn, error.
// outputs are zap sink URLs or file paths; stderr when none are given.
func Init(level string, outputs ...string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l, err := build(lvl, outputs)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	_ = logger.Sync()
	logger = l
	return nil
}

// Set swaps the global logger, mostly for tests (zap.NewNop, zaptest).
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.WithOptions(zap.AddCallerSkip(1))
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

func Sync() error {
	return L().Sync()
}
