package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/netcap/internal/core"
)

// PcapDevice reads from a libpcap handle, either a live interface or a
// savefile.
type PcapDevice struct {
	handle  *pcap.Handle
	name    string
	offline bool

	closeOnce sync.Once
}

// OpenLive opens opts.Interface for live capture.
func OpenLive(opts Options) (*PcapDevice, error) {
	inactive, err := pcap.NewInactiveHandle(opts.Interface)
	if err != nil {
		return nil, deviceError("open "+opts.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, deviceError("snap_len", err)
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, deviceError("promiscuous", err)
	}
	if err := inactive.SetTimeout(opts.Timeout); err != nil {
		return nil, deviceError("timeout", err)
	}
	if opts.BufferSize > 0 {
		if err := inactive.SetBufferSize(opts.BufferSize); err != nil {
			return nil, deviceError("buffer_size", err)
		}
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, deviceError("activate "+opts.Interface, err)
	}
	return &PcapDevice{handle: h, name: opts.Interface}, nil
}

// OpenOffline opens a pcap savefile.
func OpenOffline(path string) (*PcapDevice, error) {
	h, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, deviceError("open "+path, err)
	}
	return &PcapDevice{handle: h, name: path, offline: true}, nil
}

func (d *PcapDevice) Start(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := d.handle.ZeroCopyReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return deviceError("read "+d.name, err)
		}

		h(core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		})
	}
}

func (d *PcapDevice) SetFilter(expr string) error {
	if err := d.handle.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("%w: %q: %v", core.ErrFilterSyntax, expr, err)
	}
	return nil
}

func (d *PcapDevice) Inject(data []byte) error {
	if d.offline {
		return deviceError("inject", errors.New("savefile is read-only"))
	}
	if err := d.handle.WritePacketData(data); err != nil {
		return deviceError("inject", err)
	}
	return nil
}

func (d *PcapDevice) Stats() (uint64, uint64, error) {
	if d.offline {
		return 0, 0, nil
	}
	s, err := d.handle.Stats()
	if err != nil {
		return 0, 0, deviceError("stats", err)
	}
	return uint64(s.PacketsReceived), uint64(s.PacketsDropped), nil
}

func (d *PcapDevice) Close() error {
	d.closeOnce.Do(d.handle.Close)
	return nil
}
