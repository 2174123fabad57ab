package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
}

// NewLogger builds a zap logger. format is "json" or "text" (console encoder).
func NewLogger(level, format string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "text", "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{SugaredLogger: base.Sugar()}, nil
}

// New wraps an existing zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{SugaredLogger: base.Sugar()}
}

func NewNop() *Logger {
	return New(zap.NewNop())
}

func (l *Logger) SSHConnectionAttempt(method, target string) {
	l.Infow("attempting SSH connection",
		"type", "ssh_connection",
		"method", method,
		"target", target,
	)
}

func (l *Logger) DeploymentStep(step, host string) {
	l.Infow("running deploy step",
		"type", "deployment",
		"step", step,
		"host", host,
	)
}

func (l *Logger) DeploymentError(step string, err error) {
	l.Errorw("deploy step failed",
		"type", "deployment",
		"step", step,
		"error", err.Error(),
	)
}

func (l *Logger) DeploymentSuccess(step string) {
	l.Infow("deploy step succeeded",
		"type", "deployment",
		"step", step,
	)
}
