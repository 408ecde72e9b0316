package dsl

import "sort"

// OffsetSymbol names a byte offset in an Ethernet II frame carrying IPv4
// without options.
type OffsetSymbol struct {
	Name    string
	Offset  int
	Aliases []string
	Desc    string
}

var offsetSymbols = []OffsetSymbol{
	{"eth-dst", 0, []string{"eth-destination"}, "Ethernet destination MAC"},
	{"eth-src", 6, []string{"eth-source"}, "Ethernet source MAC"},
	{"eth-type", 12, []string{"eth-ethertype"}, "EtherType"},
	{"ip", 14, []string{"ipv4"}, "start of the IPv4 header"},
	{"ip-version", 14, []string{"ip-ihl"}, "version and header length byte"},
	{"ip-tos", 15, []string{"ip-dscp"}, "type of service"},
	{"ip-len", 16, []string{"ip-total-length"}, "IPv4 total length"},
	{"ip-id", 18, []string{"ip-identification"}, "identification"},
	{"ip-frag", 20, []string{"ip-flags"}, "flags and fragment offset"},
	{"ip-ttl", 22, []string{"ip-time-to-live"}, "time to live"},
	{"ip-proto", 23, []string{"ip-protocol"}, "protocol"},
	{"ip-checksum", 24, []string{"ip-header-checksum"}, "header checksum"},
	{"ip-src", 26, []string{"ipv4-src", "ip-source"}, "source address"},
	{"ip-dst", 30, []string{"ipv4-dst", "ip-destination"}, "destination address"},
	{"l4", 34, []string{"transport"}, "start of the transport header"},
	{"udp-src", 34, []string{"udp-source-port"}, "UDP source port"},
	{"udp-dst", 36, []string{"udp-destination-port"}, "UDP destination port"},
	{"udp-len", 38, []string{"udp-length"}, "UDP length"},
	{"udp-checksum", 40, nil, "UDP checksum"},
	{"udp-payload", 42, []string{"udp-data"}, "UDP payload"},
	{"tcp-src", 34, []string{"tcp-source-port"}, "TCP source port"},
	{"tcp-dst", 36, []string{"tcp-destination-port"}, "TCP destination port"},
	{"tcp-seq", 38, []string{"tcp-sequence"}, "sequence number"},
	{"tcp-ack", 42, []string{"tcp-acknowledgment"}, "acknowledgment number"},
	{"tcp-offset", 46, []string{"tcp-data-offset"}, "data offset byte"},
	{"tcp-flags", 47, nil, "flags"},
	{"tcp-window", 48, []string{"tcp-window-size"}, "window size"},
	{"tcp-checksum", 50, nil, "TCP checksum"},
	{"tcp-urgent", 52, []string{"tcp-urgent-pointer"}, "urgent pointer"},
	{"tcp-payload", 54, []string{"tcp-data"}, "TCP payload without options"},
	{"icmp-type", 34, nil, "ICMP type"},
	{"icmp-code", 35, nil, "ICMP code"},
	{"icmp-checksum", 36, nil, "ICMP checksum"},
}

var offsetIndex = func() map[string]int {
	m := make(map[string]int)
	for _, s := range offsetSymbols {
		m[s.Name] = s.Offset
		for _, a := range s.Aliases {
			m[a] = s.Offset
		}
	}
	return m
}()

// LookupOffset resolves a symbol or alias.
func LookupOffset(name string) (int, bool) {
	off, ok := offsetIndex[name]
	return off, ok
}

// OffsetSymbols returns all symbols ordered by offset, then name.
func OffsetSymbols() []OffsetSymbol {
	out := append([]OffsetSymbol(nil), offsetSymbols...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Name < out[j].Name
	})
	return out
}
