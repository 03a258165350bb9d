// Package logging builds the logrus logger used by the grants daemon and
// adapts it to grants.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-grants"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the logger. An empty File logs to stdout only.
type Config struct {
	Level      string `toml:"level" env:"LEVEL"`
	Format     string `toml:"format" env:"FORMAT"`
	File       string `toml:"file" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxAgeDays int    `toml:"max_age_days" env:"MAX_AGE_DAYS"`
	MaxBackups int    `toml:"max_backups" env:"MAX_BACKUPS"`
	Compress   bool   `toml:"compress" env:"COMPRESS"`
}

// DefaultConfig logs text at info level to stdout
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "text",
		MaxSizeMB: 100,
		Compress:  true,
	}
}

// New returns a configured logger
func New(cfg Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if cfg.Level == "" {
		level, err = logrus.InfoLevel, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		})
	}

	l := logrus.New()
	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	l.SetOutput(out)
	l.SetLevel(level)
	return l, nil
}

// Adapter implements grants.Logger over a logrus entry.
type Adapter struct {
	entry *logrus.Entry
}

var _ grants.Logger = (*Adapter)(nil)

// NewAdapter wraps l, tagging every line with the component name.
func NewAdapter(l *logrus.Logger, component string) *Adapter {
	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Adapter{entry: entry}
}

// With returns an adapter carrying an extra field
func (a *Adapter) With(key string, value any) *Adapter {
	return &Adapter{entry: a.entry.WithField(key, value)}
}

func (a *Adapter) Debug(format string, args ...any) { a.entry.Debugf(format, args...) }
func (a *Adapter) Info(format string, args ...any)  { a.entry.Infof(format, args...) }
func (a *Adapter) Warn(format string, args ...any)  { a.entry.Warnf(format, args...) }
func (a *Adapter) Error(format string, args ...any) { a.entry.Errorf(format, args...) }
