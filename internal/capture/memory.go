package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"firestige.xyz/netcap/internal/core"
)

// MemoryDevice serves frames from memory. Injected frames loop back to the
// reader. Filters are compiled with libpcap and evaluated in userspace.
type MemoryDevice struct {
	mu       sync.Mutex
	pending  [][]byte
	sent     [][]byte
	filter   string
	matcher  *Matcher
	received uint64
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

// NewMemoryDevice creates a device that delivers frames once Start is
// called.
func NewMemoryDevice(frames ...[]byte) *MemoryDevice {
	d := &MemoryDevice{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, f := range frames {
		d.pending = append(d.pending, append([]byte(nil), f...))
	}
	return d
}

// Start delivers queued and injected frames until ctx is done or the device
// is closed.
func (d *MemoryDevice) Start(ctx context.Context, h Handler) error {
	d.wake()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.done:
			return nil
		case <-d.notify:
		}

		for {
			frame, m, ok := d.next()
			if !ok {
				break
			}
			if m != nil && !m.Match(frame) {
				continue
			}
			h(core.RawPacket{
				Data:       frame,
				Timestamp:  time.Now(),
				CaptureLen: uint32(len(frame)),
				OrigLen:    uint32(len(frame)),
			})
		}
	}
}

func (d *MemoryDevice) next() ([]byte, *Matcher, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil, nil, false
	}
	frame := d.pending[0]
	d.pending = d.pending[1:]
	d.received++
	return frame, d.matcher, true
}

func (d *MemoryDevice) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *MemoryDevice) SetFilter(expr string) error {
	var m *Matcher
	if expr != "" {
		var err error
		if m, err = NewMatcher(expr, 65535); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.filter, d.matcher = expr, m
	d.mu.Unlock()
	return nil
}

// Filter returns the installed filter expression.
func (d *MemoryDevice) Filter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter
}

func (d *MemoryDevice) Inject(data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return deviceError("inject", errors.New("device closed"))
	}
	frame := append([]byte(nil), data...)
	d.sent = append(d.sent, frame)
	d.pending = append(d.pending, frame)
	d.mu.Unlock()
	d.wake()
	return nil
}

// Sent returns the frames written with Inject.
func (d *MemoryDevice) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}

func (d *MemoryDevice) Stats() (uint64, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received, 0, nil
}

func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	return nil
}
