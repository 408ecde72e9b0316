package log

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/netcap/internal/config"
)

type MultiWriter struct {
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		_, e := w.Write(p)
		if e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// AddFileAppender appends a rotating file writer.
func (m *MultiWriter) AddFileAppender(cfg config.FileOutputConfig) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.Rotation.MaxSizeMB,  // megabytes
		MaxBackups: cfg.Rotation.MaxBackups, // number of backups
		MaxAge:     cfg.Rotation.MaxAgeDays, // days
		Compress:   cfg.Rotation.Compress,   // compress the backups
	}
	m.writers = append(m.writers, writer)
	return m
}

// Close closes the rotating file writers.
func (m *MultiWriter) Close() error {
	var err error
	for _, w := range m.writers {
		if c, ok := w.(*lumberjack.Logger); ok {
			if e := c.Close(); e != nil {
				err = e
			}
		}
	}
	return err
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}
