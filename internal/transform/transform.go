// Package transform defines the functions turning captured buffers into
// records, and the registry of preset functions addressable by name.
package transform

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
)

// Func turns one buffer into a record. A nil record without error means the
// buffer yields nothing and is dropped silently.
type Func func(buf []byte) (any, error)

// Transform is an immutable, named transformation.
type Transform struct {
	Name string
	// Program is set when the transformation was compiled from a DSL expression.
	Program *dsl.Program
	Apply   Func
}

// FromProgram wraps a compiled DSL program.
func FromProgram(name string, p *dsl.Program) *Transform {
	return &Transform{
		Name:    name,
		Program: p,
		Apply: func(buf []byte) (any, error) {
			v, ok := p.Apply(buf)
			if !ok {
				return nil, nil
			}
			return v, nil
		},
	}
}

// Registry holds named transformations.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]*Transform
}

// NewRegistry returns a registry with the preset transformations.
func NewRegistry() *Registry {
	r := &Registry{transforms: make(map[string]*Transform)}
	for _, t := range presets() {
		r.transforms[t.Name] = t
	}
	return r
}

// Register adds a transformation. Names are unique.
func (r *Registry) Register(t *Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Name == "" || t.Apply == nil {
		return fmt.Errorf("transformation requires a name and a function")
	}
	if _, exists := r.transforms[t.Name]; exists {
		return fmt.Errorf("transformation '%s' already registered", t.Name)
	}
	r.transforms[t.Name] = t
	return nil
}

// Get returns the named transformation.
func (r *Registry) Get(name string) (*Transform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.transforms[name]
	if !exists {
		return nil, fmt.Errorf("transformation '%s': %w", name, core.ErrNameNotFound)
	}
	return t, nil
}

// Names lists registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func presets() []*Transform {
	return []*Transform{
		{Name: "raw", Apply: Raw},
		{Name: "hex", Apply: Hex},
		{Name: "length", Apply: Length},
		{Name: "layers", Apply: Layers},
	}
}

// Raw passes the buffer through unchanged.
func Raw(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	return buf, nil
}

// Hex encodes the whole buffer.
func Hex(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	return hex.EncodeToString(buf), nil
}

// Length records the buffer size.
func Length(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	return int64(len(buf)), nil
}

// Layers decodes the buffer as an Ethernet frame and records the layer stack,
// e.g. "Ethernet/IPv4/UDP/Payload".
func Layers(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	packet := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.NoCopy)
	if errLayer := packet.ErrorLayer(); errLayer != nil && len(packet.Layers()) <= 1 {
		return nil, fmt.Errorf("%w: %v", core.ErrExtraction, errLayer.Error())
	}
	names := make([]string, 0, len(packet.Layers()))
	for _, l := range packet.Layers() {
		if l.LayerType() == gopacket.LayerTypeDecodeFailure {
			continue
		}
		names = append(names, l.LayerType().String())
	}
	return strings.Join(names, "/"), nil
}
