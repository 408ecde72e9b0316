// Package packetgen builds synthetic frames from structured descriptors.
//
// A descriptor is a YAML (or flow-style, single line) document naming the
// layers to emit; absent layers get defaults:
//
//	{udp: {dst: 53}, payload: hello}
//	{ipv4: {src: 192.168.0.1, ttl: 3}, tcp: {dst: 80, flags: [syn]}}
//
// Ethernet and IPv4 are always present. At most one of udp, tcp and icmp
// may be given.
package packetgen

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"gopkg.in/yaml.v3"

	"firestige.xyz/netcap/internal/core"
)

var (
	defaultSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	defaultDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Descriptor describes one frame.
type Descriptor struct {
	Eth        *Ethernet `yaml:"eth"`
	IPv4       *IPv4     `yaml:"ipv4"`
	UDP        *UDP      `yaml:"udp"`
	TCP        *TCP      `yaml:"tcp"`
	ICMP       *ICMP     `yaml:"icmp"`
	Payload    string    `yaml:"payload"`
	PayloadHex string    `yaml:"payload_hex"`
}

type Ethernet struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

type IPv4 struct {
	Src   string `yaml:"src"`
	Dst   string `yaml:"dst"`
	TTL   *uint8 `yaml:"ttl"`
	TOS   uint8  `yaml:"tos"`
	ID    uint16 `yaml:"id"`
	Proto *uint8 `yaml:"proto"`
}

type UDP struct {
	Src uint16 `yaml:"src"`
	Dst uint16 `yaml:"dst"`
}

type TCP struct {
	Src    uint16   `yaml:"src"`
	Dst    uint16   `yaml:"dst"`
	Seq    uint32   `yaml:"seq"`
	Ack    uint32   `yaml:"ack"`
	Flags  []string `yaml:"flags"`
	Window *uint16  `yaml:"window"`
}

type ICMP struct {
	Type uint8  `yaml:"type"`
	Code uint8  `yaml:"code"`
	ID   uint16 `yaml:"id"`
	Seq  uint16 `yaml:"seq"`
}

// DescriptorError reports a malformed descriptor or byte sequence.
type DescriptorError struct {
	Msg string
}

func (e *DescriptorError) Error() string { return "packet descriptor: " + e.Msg }

func (e *DescriptorError) Unwrap() error { return core.ErrCommandParse }

func descErr(format string, args ...any) error {
	return &DescriptorError{Msg: fmt.Sprintf(format, args...)}
}

// ParseDescriptor decodes a descriptor document. Unknown keys are rejected.
func ParseDescriptor(text string) (*Descriptor, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, descErr("%v", err)
	}
	return &d, nil
}

// Generate serializes d into a frame with lengths and checksums filled in.
func Generate(d *Descriptor) ([]byte, error) {
	l4 := 0
	for _, set := range []bool{d.UDP != nil, d.TCP != nil, d.ICMP != nil} {
		if set {
			l4++
		}
	}
	if l4 > 1 {
		return nil, descErr("at most one of udp, tcp and icmp may be given")
	}

	eth, err := d.ethernet()
	if err != nil {
		return nil, err
	}
	ip, err := d.ipv4()
	if err != nil {
		return nil, err
	}
	payload, err := d.payload()
	if err != nil {
		return nil, err
	}

	stack := []gopacket.SerializableLayer{eth, ip}
	switch {
	case d.UDP != nil:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(d.UDP.Src), DstPort: layers.UDPPort(d.UDP.Dst)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		stack = append(stack, udp)
	case d.TCP != nil:
		ip.Protocol = layers.IPProtocolTCP
		tcp, err := d.TCP.layer()
		if err != nil {
			return nil, err
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		stack = append(stack, tcp)
	case d.ICMP != nil:
		ip.Protocol = layers.IPProtocolICMPv4
		stack = append(stack, &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(d.ICMP.Type, d.ICMP.Code),
			Id:       d.ICMP.ID,
			Seq:      d.ICMP.Seq,
		})
	}
	if d.IPv4 != nil && d.IPv4.Proto != nil {
		ip.Protocol = layers.IPProtocol(*d.IPv4.Proto)
	}
	stack = append(stack, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, fmt.Errorf("serialize packet: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Descriptor) ethernet() (*layers.Ethernet, error) {
	eth := &layers.Ethernet{SrcMAC: defaultSrcMAC, DstMAC: defaultDstMAC, EthernetType: layers.EthernetTypeIPv4}
	if d.Eth == nil {
		return eth, nil
	}
	var err error
	if d.Eth.Src != "" {
		if eth.SrcMAC, err = net.ParseMAC(d.Eth.Src); err != nil {
			return nil, descErr("eth.src: %v", err)
		}
	}
	if d.Eth.Dst != "" {
		if eth.DstMAC, err = net.ParseMAC(d.Eth.Dst); err != nil {
			return nil, descErr("eth.dst: %v", err)
		}
	}
	return eth, nil
}

func (d *Descriptor) ipv4() (*layers.IPv4, error) {
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   net.IPv4(10, 0, 0, 1).To4(),
		DstIP:   net.IPv4(10, 0, 0, 2).To4(),
	}
	spec := d.IPv4
	if spec == nil {
		return ip, nil
	}
	var err error
	if spec.Src != "" {
		if ip.SrcIP, err = parseIPv4("ipv4.src", spec.Src); err != nil {
			return nil, err
		}
	}
	if spec.Dst != "" {
		if ip.DstIP, err = parseIPv4("ipv4.dst", spec.Dst); err != nil {
			return nil, err
		}
	}
	if spec.TTL != nil {
		ip.TTL = *spec.TTL
	}
	ip.TOS = spec.TOS
	ip.Id = spec.ID
	return ip, nil
}

func parseIPv4(key, s string) (net.IP, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return nil, descErr("%s: %q is not an IPv4 address", key, s)
	}
	return ip, nil
}

var tcpFlags = map[string]func(*layers.TCP){
	"fin": func(t *layers.TCP) { t.FIN = true },
	"syn": func(t *layers.TCP) { t.SYN = true },
	"rst": func(t *layers.TCP) { t.RST = true },
	"psh": func(t *layers.TCP) { t.PSH = true },
	"ack": func(t *layers.TCP) { t.ACK = true },
	"urg": func(t *layers.TCP) { t.URG = true },
	"ece": func(t *layers.TCP) { t.ECE = true },
	"cwr": func(t *layers.TCP) { t.CWR = true },
}

func (t *TCP) layer() (*layers.TCP, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(t.Src),
		DstPort: layers.TCPPort(t.Dst),
		Seq:     t.Seq,
		Ack:     t.Ack,
		Window:  65535,
	}
	if t.Window != nil {
		tcp.Window = *t.Window
	}
	for _, f := range t.Flags {
		set, ok := tcpFlags[strings.ToLower(f)]
		if !ok {
			return nil, descErr("tcp.flags: unknown flag %q", f)
		}
		set(tcp)
	}
	return tcp, nil
}

func (d *Descriptor) payload() ([]byte, error) {
	if d.Payload != "" && d.PayloadHex != "" {
		return nil, descErr("payload and payload_hex are mutually exclusive")
	}
	if d.PayloadHex != "" {
		b, err := ParseBytes(d.PayloadHex)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return []byte(d.Payload), nil
}

// ParseBytes decodes a raw byte sequence written as hex. Bytes may be
// separated by spaces, colons, dashes or commas and may carry a 0x prefix.
func ParseBytes(text string) ([]byte, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ':' || r == '-' || r == ','
	})
	if len(fields) == 0 {
		return nil, descErr("empty byte sequence")
	}

	var buf bytes.Buffer
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		if len(f) == 1 {
			f = "0" + f
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, descErr("bad byte sequence %q", f)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// Build turns a command argument into a frame. An argument that does not
// open with '{' is first tried as a raw byte sequence, then as a descriptor.
func Build(arg string) ([]byte, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, descErr("missing descriptor")
	}
	if !strings.HasPrefix(arg, "{") {
		if b, err := ParseBytes(arg); err == nil {
			return b, nil
		}
	}
	d, err := ParseDescriptor(arg)
	if err != nil {
		return nil, err
	}
	return Generate(d)
}

// Format renders a frame as space separated hex bytes.
func Format(frame []byte) string {
	var sb strings.Builder
	for i, b := range frame {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(hex.EncodeToString([]byte{b}))
	}
	return sb.String()
}
