// Package logging builds the logrus logger shared by the client packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config defines logging configuration options.
type Config struct {
	Level        logrus.Level
	Output       io.Writer
	Formatter    logrus.Formatter
	ReportCaller bool
}

// DefaultConfig logs at info level to stderr with full timestamps.
func DefaultConfig() Config {
	return Config{
		Level:  logrus.InfoLevel,
		Output: os.Stderr,
		Formatter: &logrus.TextFormatter{
			FullTimestamp: true,
		},
	}
}

// New creates a logger from cfg. A nil Output or Formatter falls back to
// DefaultConfig.
func New(cfg Config) *logrus.Logger {
	defaults := DefaultConfig()
	if cfg.Output == nil {
		cfg.Output = defaults.Output
	}
	if cfg.Formatter == nil {
		cfg.Formatter = defaults.Formatter
	}

	logger := logrus.New()
	logger.SetOutput(cfg.Output)
	logger.SetFormatter(cfg.Formatter)
	logger.SetLevel(cfg.Level)
	logger.SetReportCaller(cfg.ReportCaller)
	return logger
}

// ParseLevel maps a config string to a level. Empty means info.
func ParseLevel(value string) (logrus.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(value)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

// ParseFormatter maps "json" or "text" to a formatter. Empty means text.
func ParseFormatter(value string) (logrus.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", value)
	}
}
