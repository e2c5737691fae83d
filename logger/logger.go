package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options controls how the process logger is built.
type Options struct {
	Level  string
	Format string // text | json
	Dir    string
	File   string // empty: stdout only
}

// New builds the process logger. The returned closer releases the log file, if any.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}

	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return log, nopCloser{}, nil
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(filepath.Join(opts.Dir, opts.File), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return log, f, nil
}

// Component tags every entry with the emitting component.
func Component(base logrus.FieldLogger, name string) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithField("component", name)
}

// Discard returns an entry that writes nowhere; handy in tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
