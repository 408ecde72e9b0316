package dsl

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"firestige.xyz/netcap/internal/core"
)

// Built-in named expressions.
var builtins = map[string]string{
	"udp-ports": `
output: csv
fields:
  - {name: udpSrc, type: uint16, offset: udp-src, priority: 2}
  - {name: udpDst, type: uint16, offset: udp-dst, priority: 1}
`,
	"ipv4-5tuple": `
output: csv
fields:
  - {name: src, type: ipv4, offset: ip-src, priority: 5}
  - {name: dst, type: ipv4, offset: ip-dst, priority: 4}
  - {name: proto, type: uint8, offset: ip-proto, priority: 3}
  - {name: srcPort, type: uint16, offset: l4, priority: 2}
  - {name: dstPort, type: uint16, expr: "u16be(l4 + 2)", priority: 1}
`,
	"tcp-header": `
output: text
fields:
  - {name: srcPort, type: uint16, offset: tcp-src, priority: 9}
  - {name: dstPort, type: uint16, offset: tcp-dst, priority: 8}
  - {name: seq, type: uint32, offset: tcp-seq, priority: 4}
  - {name: ack, type: uint32, offset: tcp-ack, priority: 3}
  - {name: dataOffset, type: uint8, expr: "u8(tcp-offset) >> 4", priority: 2}
  - {name: flags, type: uint8, offset: tcp-flags, priority: 7}
  - {name: window, type: uint16, offset: tcp-window, priority: 1}
  - {name: payloadLen, type: int32, expr: "u16be(ip-len) - (u8(ip-version) & 15) * 4 - (u8(tcp-offset) >> 4) * 4", priority: 6}
  - {name: ttlRatio, type: float, expr: "float(u8(ip-ttl)) / 255", priority: 5}
`,
	"eth-header": `
output: hex
separator: " "
fields:
  - {name: dst, type: mac, offset: eth-dst, priority: 2}
  - {name: src, type: mac, offset: eth-src, priority: 1}
  - {name: type, type: uint16, offset: eth-type, priority: 3}
`,
}

// NamedExpressions is a registry of expressions addressable by name.
type NamedExpressions struct {
	mu    sync.RWMutex
	items map[string]string
}

// Named holds the built-in expressions.
var Named = NewNamedExpressions()

// NewNamedExpressions returns a registry preloaded with the built-ins.
func NewNamedExpressions() *NamedExpressions {
	n := &NamedExpressions{items: make(map[string]string, len(builtins))}
	for name, doc := range builtins {
		n.items[name] = doc
	}
	return n
}

// Register adds or replaces a named expression after checking it compiles.
func (n *NamedExpressions) Register(name, doc string) error {
	if _, err := CompileText(doc); err != nil {
		return err
	}
	n.mu.Lock()
	n.items[name] = doc
	n.mu.Unlock()
	return nil
}

// Lookup parses the named expression.
func (n *NamedExpressions) Lookup(name string) (*Expression, error) {
	n.mu.RLock()
	doc, ok := n.items[name]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dsl expression %q: %w", name, core.ErrNameNotFound)
	}
	return Parse([]byte(doc))
}

// Names returns the registered names, sorted.
func (n *NamedExpressions) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.items))
	for name := range n.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve interprets s as a registered name, "@path" to a document file, or a
// literal document.
func (n *NamedExpressions) Resolve(s string) (*Expression, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		data, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, fmt.Errorf("read dsl file: %w", err)
		}
		return Parse(data)
	}
	if expr, err := n.Lookup(s); err == nil {
		return expr, nil
	}
	if strings.ContainsAny(s, ":{\n") {
		return Parse([]byte(s))
	}
	return nil, fmt.Errorf("dsl expression %q: %w", s, core.ErrNameNotFound)
}

// Resolve resolves s against the built-in registry.
func Resolve(s string) (*Expression, error) { return Named.Resolve(s) }
