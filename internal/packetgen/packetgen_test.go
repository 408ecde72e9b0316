package packetgen

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/core"
)

func decode(t *testing.T, frame []byte) gopacket.Packet {
	t.Helper()
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	return pkt
}

func TestGenerateUDP(t *testing.T) {
	frame, err := Build("{udp: {src: 1234, dst: 9999}, payload: hello}")
	require.NoError(t, err)

	pkt := decode(t, frame)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, "10.0.0.1", ip.SrcIP.String())
	assert.Equal(t, uint8(64), ip.TTL)
	assert.Equal(t, layers.IPProtocolUDP, ip.Protocol)

	udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, layers.UDPPort(1234), udp.SrcPort)
	assert.Equal(t, layers.UDPPort(9999), udp.DstPort)
	assert.Equal(t, []byte("hello"), udp.Payload)

	// dst port sits at 14 + 20 + 2
	assert.Equal(t, []byte{0x27, 0x0f}, frame[36:38])
}

func TestGenerateTCP(t *testing.T) {
	frame, err := Build("{eth: {src: 'aa:bb:cc:dd:ee:ff'}, ipv4: {dst: 192.168.1.9, ttl: 3}, tcp: {dst: 80, seq: 7, flags: [syn, ack]}}")
	require.NoError(t, err)

	pkt := decode(t, frame)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", eth.SrcMAC.String())
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, "192.168.1.9", ip.DstIP.String())
	assert.Equal(t, uint8(3), ip.TTL)

	tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	assert.True(t, tcp.SYN)
	assert.True(t, tcp.ACK)
	assert.False(t, tcp.FIN)
	assert.Equal(t, uint32(7), tcp.Seq)
	assert.Equal(t, uint16(65535), tcp.Window)
}

func TestGenerateICMP(t *testing.T) {
	frame, err := Build("icmp: {type: 8, id: 1, seq: 2}")
	require.NoError(t, err)

	icmp := decode(t, frame).Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	assert.Equal(t, uint8(layers.ICMPv4TypeEchoRequest), icmp.TypeCode.Type())
	assert.Equal(t, uint16(2), icmp.Seq)
}

func TestBuildRawBytes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"00 01 ff", []byte{0x00, 0x01, 0xff}},
		{"0x0a,0x0b", []byte{0x0a, 0x0b}},
		{"de:ad:be:ef", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"cafe", []byte{0xca, 0xfe}},
		{"1 2", []byte{0x01, 0x02}},
	}
	for _, tt := range tests {
		got, err := Build(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestBuildErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"{udp: {dst: 70000}}",
		"{udp: {dst: 53}, tcp: {dst: 80}}",
		"{tcp: {flags: [nope]}}",
		"{ipv4: {src: 'fe80::1'}}",
		"{eth: {dst: 'zz'}}",
		"{bogus: 1}",
		"{payload: a, payload_hex: '00'}",
	} {
		_, err := Build(in)
		assert.ErrorIs(t, err, core.ErrCommandParse, in)
	}
}

func TestPayloadHexAndProto(t *testing.T) {
	frame, err := Build("{ipv4: {proto: 253}, payload_hex: 'de ad'}")
	require.NoError(t, err)
	assert.Equal(t, byte(253), frame[23])
	assert.Equal(t, []byte{0xde, 0xad}, frame[34:36])
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "00 0a ff", Format([]byte{0, 10, 255}))
	assert.Equal(t, "", Format(nil))
}
