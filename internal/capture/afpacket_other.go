//go:build !linux

package capture

import (
	"errors"
	"runtime"
)

// OpenAFPacket is only available on linux.
func OpenAFPacket(Options) (Device, error) {
	return nil, deviceError("afpacket", errors.New("not supported on "+runtime.GOOS))
}
