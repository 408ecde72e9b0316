// Package dsl implements the packet field extraction language: a YAML/JSON
// document of named rules compiled into a pure per-buffer extraction program.
package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"firestige.xyz/netcap/internal/core"
)

// Expression is a parsed extraction document.
type Expression struct {
	Output    string `yaml:"output,omitempty"`
	Separator string `yaml:"separator,omitempty"`
	Fields    []Rule `yaml:"fields"`
}

// Rule extracts one named field. Exactly one of Offset and Expr is set.
type Rule struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Offset   Offset `yaml:"offset,omitempty"`
	Expr     string `yaml:"expr,omitempty"`
	Endian   string `yaml:"endian,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
}

// Offset is a symbol, an integer or an expression locating a read.
// Integers and strings are both accepted in documents.
type Offset string

func (o *Offset) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: offset must be a scalar", node.Line)
	}
	*o = Offset(node.Value)
	return nil
}

// Parse reads an extraction document in YAML or JSON form.
func Parse(data []byte) (*Expression, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var expr Expression
	if err := dec.Decode(&expr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CompileError{Msg: "empty document"}
		}
		return nil, &CompileError{Msg: err.Error()}
	}
	return &expr, nil
}

// Canonical returns a normalized text form of the expression. Documents that
// differ only in layout share a canonical form.
func (e *Expression) Canonical() string {
	out, err := yaml.Marshal(e)
	if err != nil {
		// Expression holds only strings and ints.
		panic(err)
	}
	return string(out)
}

// Clone returns a deep copy.
func (e *Expression) Clone() *Expression {
	c := *e
	c.Fields = append([]Rule(nil), e.Fields...)
	return &c
}

// Names returns the declared field names in order.
func (e *Expression) Names() []string {
	names := make([]string, len(e.Fields))
	for i, r := range e.Fields {
		names[i] = r.Name
	}
	return names
}

// CompileError reports why an expression could not be compiled. Field is empty
// for document level problems.
type CompileError struct {
	Field string
	Msg   string
}

func (e *CompileError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", core.ErrCompile, e.Msg)
	}
	return fmt.Sprintf("%s: field %q: %s", core.ErrCompile, e.Field, e.Msg)
}

func (e *CompileError) Unwrap() error { return core.ErrCompile }

func fieldError(field, format string, args ...any) error {
	return &CompileError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
