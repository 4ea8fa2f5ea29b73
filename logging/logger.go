package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Format string
	// File, when set, receives the output through a rotating writer instead
	// of stderr.
	File  string
	Debug bool
}

// New builds a logrus logger. The returned closer releases the log file and
// is never nil.
func New(opts Options) (*log.Logger, io.Closer, error) {
	logger := log.New()

	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if opts.Debug && level < log.DebugLevel {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		logger.SetOutput(file)
		closer = file
	} else {
		logger.SetOutput(os.Stderr)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
