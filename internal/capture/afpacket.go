//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/netcap/internal/core"
)

// AFPacketDevice reads from a TPACKET_V3 memory-mapped ring.
type AFPacketDevice struct {
	tp      *afpacket.TPacket
	iface   string
	snapLen int

	closeOnce sync.Once
}

// OpenAFPacket opens an AF_PACKET ring on opts.Interface sized to
// opts.BufferSize bytes.
func OpenAFPacket(opts Options) (*AFPacketDevice, error) {
	size := opts.BufferSize
	if size <= 0 {
		size = 16 << 20
	}
	frame, block, blocks, err := ringLayout(size, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, deviceError("ring layout", err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Interface),
		afpacket.OptFrameSize(frame),
		afpacket.OptBlockSize(block),
		afpacket.OptNumBlocks(blocks),
		afpacket.OptPollTimeout(opts.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, deviceError("open "+opts.Interface, err)
	}
	return &AFPacketDevice{tp: tp, iface: opts.Interface, snapLen: opts.SnapLen}, nil
}

func (d *AFPacketDevice) Start(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := d.tp.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return deviceError("read "+d.iface, err)
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

func (d *AFPacketDevice) SetFilter(expr string) error {
	if expr == "" {
		// an always-accept program
		expr = "len >= 0"
	}
	raw, err := CompileBPF(expr, d.snapLen)
	if err != nil {
		return err
	}
	if err := d.tp.SetBPF(raw); err != nil {
		return deviceError("attach filter", err)
	}
	return nil
}

func (d *AFPacketDevice) Inject(data []byte) error {
	if err := d.tp.WritePacketData(data); err != nil {
		return deviceError("inject", err)
	}
	return nil
}

func (d *AFPacketDevice) Stats() (uint64, uint64, error) {
	_, v3, err := d.tp.SocketStats()
	if err != nil {
		return 0, 0, deviceError("stats", err)
	}
	return uint64(v3.Packets()), uint64(v3.Drops()), nil
}

func (d *AFPacketDevice) Close() error {
	d.closeOnce.Do(d.tp.Close)
	return nil
}

// ringLayout computes frame size, block size and block count for a ring of
// about bufferSize bytes. PACKET_MMAP wants frames aligned to
// TPACKET_ALIGNMENT, blocks that are a multiple of the page size, and
// frames that tile a block exactly.
func ringLayout(bufferSize, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const (
		alignment = 16
		hdrLen    = 52
		maxBlock  = 4 << 20
	)
	if bufferSize <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d", bufferSize)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%alignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", alignment, pageSize)
	}

	frameSize = (hdrLen + snapLen + alignment - 1) / alignment * alignment
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlock {
		// page-sized frames tile any page-aligned block
		frameSize = (frameSize + pageSize - 1) / pageSize * pageSize
		blockSize = frameSize * max(1, maxBlock/frameSize)
	}

	numBlocks = bufferSize / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
