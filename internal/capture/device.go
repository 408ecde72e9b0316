// Package capture wraps the packet sources netcap reads from.
package capture

import (
	"context"
	"fmt"
	"time"

	"firestige.xyz/netcap/internal/core"
)

// Handler receives each captured frame. The frame data is only valid for the
// duration of the call.
type Handler func(pkt core.RawPacket)

// Device is an opened packet source.
type Device interface {
	// Start delivers frames to h until ctx is done or the source is
	// exhausted. It returns nil in both cases and an error wrapping
	// core.ErrCaptureDevice when the device fails.
	Start(ctx context.Context, h Handler) error
	// SetFilter installs a BPF filter expression.
	SetFilter(expr string) error
	// Inject writes a raw frame to the wire.
	Inject(data []byte) error
	// Stats returns the device's received and dropped counters.
	Stats() (received, dropped uint64, err error)
	Close() error
}

const (
	TypePcap     = "pcap"
	TypeAFPacket = "afpacket"
)

// Options configures Open.
type Options struct {
	Type        string
	Interface   string
	ReadFile    string // offline capture, always served by pcap
	SnapLen     int
	BufferSize  int // bytes
	Promiscuous bool
	Timeout     time.Duration // read timeout used to poll for cancellation
}

// Open opens the device described by opts.
func Open(opts Options) (Device, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 100 * time.Millisecond
	}
	var (
		dev Device
		err error
	)
	switch {
	case opts.ReadFile != "":
		dev, err = OpenOffline(opts.ReadFile)
	case opts.Type == "" || opts.Type == TypePcap:
		dev, err = OpenLive(opts)
	case opts.Type == TypeAFPacket:
		dev, err = OpenAFPacket(opts)
	default:
		return nil, fmt.Errorf("%w: capture type %q", core.ErrNameNotFound, opts.Type)
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func deviceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", core.ErrCaptureDevice, op, err)
}
