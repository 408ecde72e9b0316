// Package forward implements the sinks records are delivered to.
package forward

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
)

// Forwarder delivers records. Forward is called concurrently by pipeline
// workers and must be safe for that.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, records []any) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Attribute describes one record column, used for ARFF headers.
type Attribute struct {
	Name    string
	Numeric bool
}

// Config carries everything a forwarder factory may need.
type Config struct {
	Output     io.Writer // stdout forwarder target, os.Stdout when nil
	Path       string    // file forwarder target
	ARFFHeader bool
	Attributes []Attribute
	Options    map[string]any // forwarder specific, decoded with mapstructure
}

// Factory builds a forwarder.
type Factory func(cfg Config) (Forwarder, error)

// Registry maps forwarder names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in forwarders.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		"stdout": NewStdout,
		"file":   NewFile,
		"kafka":  NewKafka,
		"count":  NewCount,
	}}
}

// Register adds a factory.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("forwarder '%s' already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds the named forwarder.
func (r *Registry) New(name string, cfg Config) (Forwarder, error) {
	r.mu.RLock()
	f, exists := r.factories[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("forwarder '%s': %w", name, core.ErrNameNotFound)
	}
	return f(cfg)
}

// Names lists registered forwarders, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttributesOf derives record columns from a compiled program. Without a
// program the record is a single string column.
func AttributesOf(p *dsl.Program) []Attribute {
	if p == nil {
		return []Attribute{{Name: "record"}}
	}
	expr := p.Expression()
	attrs := make([]Attribute, len(expr.Fields))
	for i, r := range expr.Fields {
		attrs[i] = Attribute{Name: r.Name, Numeric: r.Type != "ipv4" && r.Type != "mac"}
	}
	return attrs
}

// Encode renders a record as one line of output without the trailing newline.
func Encode(record any) ([]byte, error) {
	switch v := record.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		out := make([]byte, hex.EncodedLen(len(v)))
		hex.Encode(out, v)
		return out, nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case *dsl.Record:
		return json.Marshal(v.Map())
	}
	return json.Marshal(record)
}
