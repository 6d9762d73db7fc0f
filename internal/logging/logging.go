// Package logging builds the prefixed loggers used across the daemon.
//
// Each subsystem gets its own prefix so interleaved output stays
// readable. When a log directory is configured, output goes to both
// stderr and a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Factory hands out subsystem loggers sharing one output sink.
type Factory struct {
	out    io.Writer
	closer io.Closer
}

// Config holds logging configuration.
type Config struct {
	// Dir is where the rotating log file is written. Empty disables
	// file output.
	Dir string

	// MaxSizeMB is the rotation threshold (default: 10).
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep (default: 5).
	MaxBackups int
}

// New creates a logger factory. With an empty Dir everything goes to
// stderr only.
func New(config *Config) (*Factory, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Dir == "" {
		return &Factory{out: os.Stderr}, nil
	}
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = 10
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(config.Dir, "wcmktd.log"),
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		Compress:   true,
	}

	return &Factory{
		out:    io.MultiWriter(os.Stderr, rotator),
		closer: rotator,
	}, nil
}

// Logger returns a logger for the named subsystem.
func (f *Factory) Logger(subsystem string) *log.Logger {
	return log.New(f.out, "["+subsystem+"] ", log.LstdFlags)
}

// Close flushes and closes the rotating file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
