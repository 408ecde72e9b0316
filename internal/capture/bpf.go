package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/netcap/internal/core"
)

// CompileBPF compiles a filter expression for Ethernet frames into raw
// instructions, the form accepted by AF_PACKET sockets.
func CompileBPF(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	prog, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", core.ErrFilterSyntax, expr, err)
	}

	raw := make([]bpf.RawInstruction, len(prog))
	for i, ins := range prog {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// Matcher evaluates a compiled filter in userspace.
type Matcher struct {
	vm *bpf.VM
}

// NewMatcher compiles expr into a userspace matcher.
func NewMatcher(expr string, snapLen int) (*Matcher, error) {
	raw, err := CompileBPF(expr, snapLen)
	if err != nil {
		return nil, err
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %q: unsupported instruction", core.ErrFilterSyntax, expr)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", core.ErrFilterSyntax, expr, err)
	}
	return &Matcher{vm: vm}, nil
}

// Match reports whether the filter accepts frame.
func (m *Matcher) Match(frame []byte) bool {
	n, err := m.vm.Run(frame)
	return err == nil && n > 0
}
