// Package log provides the logger used across netcap, backed by logrus.
package log

import (
	"io"
	"os"
	"sync"

	"firestige.xyz/netcap/internal/config"
)

type Logger interface {
	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger
	output *MultiWriter
)

// GetLogger returns the global logger. Before Init it logs info and above to stderr.
func GetLogger() Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogrusAdapter(defaultLogrus(os.Stderr))
	}
	return logger
}

// Init builds the global logger from configuration. Log lines go to stderr so
// they never interleave with records written to stdout.
func Init(cfg config.LogConfig) error {
	w := NewMultiWriter().Add(os.Stderr)
	if cfg.File.Enabled {
		w.AddFileAppender(cfg.File)
	}

	l, err := New(cfg, w)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if output != nil {
		_ = output.Close()
	}
	logger, output = l, w
	return nil
}

// New builds a logger writing to out without touching the global one.
func New(cfg config.LogConfig, out io.Writer) (Logger, error) {
	l, err := newLogrus(cfg, out)
	if err != nil {
		return nil, err
	}
	return newLogrusAdapter(l), nil
}

// Close releases file appenders held by the global logger.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if output == nil {
		return nil
	}
	err := output.Close()
	output = nil
	return err
}
