package transform

import (
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
)

func udpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 9999}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip, udp, gopacket.Payload("x")))
	return buf.Bytes()
}

func TestRegistryPresets(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"hex", "layers", "length", "raw"}, r.Names())

	hexT, err := r.Get("hex")
	require.NoError(t, err)
	out, err := hexT.Apply([]byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, "dead", out)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, core.ErrNameNotFound)
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	custom := &Transform{Name: "first-byte", Apply: func(buf []byte) (any, error) {
		if len(buf) == 0 {
			return nil, errors.New("empty")
		}
		return buf[0], nil
	}}
	require.NoError(t, r.Register(custom))
	assert.Error(t, r.Register(custom), "duplicate name")
	assert.Error(t, r.Register(&Transform{Name: "nofunc"}))

	got, err := r.Get("first-byte")
	require.NoError(t, err)
	assert.Same(t, custom, got)
}

func TestEmptyBufferYieldsNothing(t *testing.T) {
	for _, fn := range []Func{Raw, Hex, Length, Layers} {
		out, err := fn(nil)
		assert.NoError(t, err)
		assert.Nil(t, out)
	}
}

func TestLayers(t *testing.T) {
	out, err := Layers(udpFrame(t))
	require.NoError(t, err)
	assert.Equal(t, "Ethernet/IPv4/UDP/Payload", out)
}

func TestFromProgram(t *testing.T) {
	p, err := dsl.CompileText(`{fields: [{name: src, type: uint16, offset: udp-src}], output: csv}`)
	require.NoError(t, err)
	tr := FromProgram("dsl", p)

	out, err := tr.Apply(udpFrame(t))
	require.NoError(t, err)
	assert.Equal(t, "40000", out)

	out, err = tr.Apply([]byte{1, 2})
	assert.NoError(t, err)
	assert.Nil(t, out)
	assert.Same(t, p, tr.Program)
}
