package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/config"
)

// New builds the process logger from config.
func New(cfg config.LoggingConfig) (*logrus.Logger, error) {
	return NewWithOutput(cfg, os.Stderr)
}

func NewWithOutput(cfg config.LoggingConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// WithLevel returns a logger sharing base's output and formatter at a
// different level. An empty or invalid level returns base unchanged.
func WithLevel(base *logrus.Logger, level string) *logrus.Logger {
	if level == "" {
		return base
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil || parsed == base.GetLevel() {
		return base
	}
	logger := logrus.New()
	logger.SetOutput(base.Out)
	logger.SetFormatter(base.Formatter)
	logger.SetLevel(parsed)
	logger.ReplaceHooks(base.Hooks)
	return logger
}
