package forward

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// LineForwarder writes one record per line to a buffered writer.
type LineForwarder struct {
	name   string
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

func newLineForwarder(name string, w io.Writer, closer io.Closer) *LineForwarder {
	return &LineForwarder{
		name:   name,
		w:      bufio.NewWriterSize(w, 64*1024),
		closer: closer,
	}
}

// NewStdout writes records to cfg.Output, or standard output.
func NewStdout(cfg Config) (Forwarder, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return newLineForwarder("stdout", out, nil), nil
}

// NewFile writes records to cfg.Path, truncating it, with an optional ARFF header.
func NewFile(cfg Config) (Forwarder, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file forwarder requires an output path")
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	lf := newLineForwarder("file", f, f)
	if cfg.ARFFHeader {
		if _, err := lf.w.WriteString(ARFFHeader("netcap", cfg.Attributes)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write arff header: %w", err)
		}
	}
	return lf, nil
}

// ARFFHeader renders the header of an ARFF data file.
func ARFFHeader(relation string, attrs []Attribute) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@RELATION %s\n\n", relation)
	for _, a := range attrs {
		kind := "STRING"
		if a.Numeric {
			kind = "NUMERIC"
		}
		fmt.Fprintf(&sb, "@ATTRIBUTE %s %s\n", a.Name, kind)
	}
	sb.WriteString("\n@DATA\n")
	return sb.String()
}

func (f *LineForwarder) Name() string { return f.name }

// Forward writes the records. Output is flushed by Flush or Close.
func (f *LineForwarder) Forward(_ context.Context, records []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range records {
		line, err := Encode(r)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if _, err := f.w.Write(line); err != nil {
			return err
		}
		if err := f.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func (f *LineForwarder) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Flush()
}

func (f *LineForwarder) Close(ctx context.Context) error {
	err := f.Flush(ctx)
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
