// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is a captured frame handed from a capture device to the pipeline.
type RawPacket struct {
	Data           []byte    // Raw frame data, only valid for the duration of the callback
	Timestamp      time.Time // Capture timestamp
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
}
