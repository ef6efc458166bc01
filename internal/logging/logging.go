// Package logging builds the structured logger used across the pipeline.
package logging

import (
	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface every pipeline component
// depends on. Debug/Info/Warn/Error take alternating key/value pairs,
// matching the teacher's orchestrator.Logger contract.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; useful in tests.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}
func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger backed by zap. INFO/WARNING/ERROR run with a JSON
// production encoder; DEBUG switches to zap's human-readable development
// encoder, mirroring the level-driven console/JSON split in
// original_source/server/app/main.py's configure_logging.
func New(level config.LogLevel) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case config.LogLevelDebug:
		zapLevel = zapcore.DebugLevel
	case config.LogLevelWarning:
		zapLevel = zapcore.WarnLevel
	case config.LogLevelError:
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if level == config.LogLevelDebug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &zapLogger{sugar: base.Sugar()}, nil
}

func (l *zapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }
