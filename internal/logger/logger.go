// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger output.
type Options struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout, stderr or a file path
	MaxAge int    `yaml:"max_age_days"`
}

// New builds a logger from opts. LOG_LEVEL overrides opts.Level.
func New(opts Options) (*logrus.Logger, error) {
	l := logrus.New()
	if err := Configure(l, opts); err != nil {
		return nil, err
	}
	return l, nil
}

// Configure applies opts to an existing logger.
func Configure(l *logrus.Logger, opts Options) error {
	level := opts.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	switch opts.Format {
	case "json", "":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", opts.Format)
	}

	l.SetOutput(outputFor(opts))
	return nil
}

func outputFor(opts Options) io.Writer {
	switch opts.Output {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 7
	}
	return &lumberjack.Logger{
		Filename: opts.Output,
		MaxAge:   maxAge,
		MaxSize:  100,
		Compress: true,
	}
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(l *logrus.Logger, component string) *logrus.Entry {
	return l.WithField("component", component)
}

// Discard returns an entry that drops everything. Used when no logger is wired.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
