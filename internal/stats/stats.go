// Package stats aggregates the pipeline counters.
package stats

import (
	"sync/atomic"
	"time"
)

// Collector holds cumulative counters. All methods are safe for concurrent use
// and counters are never reset.
type Collector struct {
	Captured       atomic.Uint64
	Processed      atomic.Uint64
	Dropped        atomic.Uint64
	QueueDropped   atomic.Uint64
	Errors         atomic.Uint64
	Forwarded      atomic.Uint64
	ForwardErrors  atomic.Uint64
	ProcessingTime atomic.Int64 // nanoseconds

	DeviceReceived atomic.Uint64
	DeviceDropped  atomic.Uint64

	start time.Time
}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// AddProcessingTime accumulates time spent in transformations.
func (c *Collector) AddProcessingTime(d time.Duration) {
	c.ProcessingTime.Add(int64(d))
}

// SetDeviceStats records the capture device's own counters.
func (c *Collector) SetDeviceStats(received, dropped uint64) {
	c.DeviceReceived.Store(received)
	c.DeviceDropped.Store(dropped)
}

// Snapshot returns an immutable copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Time:           time.Now(),
		Uptime:         time.Since(c.start),
		Captured:       c.Captured.Load(),
		Processed:      c.Processed.Load(),
		Dropped:        c.Dropped.Load(),
		QueueDropped:   c.QueueDropped.Load(),
		Errors:         c.Errors.Load(),
		Forwarded:      c.Forwarded.Load(),
		ForwardErrors:  c.ForwardErrors.Load(),
		ProcessingTime: time.Duration(c.ProcessingTime.Load()),
		DeviceReceived: c.DeviceReceived.Load(),
		DeviceDropped:  c.DeviceDropped.Load(),
	}
}

// Snapshot represents collector counters at one instant.
type Snapshot struct {
	Time           time.Time
	Uptime         time.Duration
	Captured       uint64
	Processed      uint64
	Dropped        uint64
	QueueDropped   uint64
	Errors         uint64
	Forwarded      uint64
	ForwardErrors  uint64
	ProcessingTime time.Duration
	DeviceReceived uint64
	DeviceDropped  uint64
}

// Sub returns the change from prev to s. Counters are monotonic, so a counter
// smaller than in prev is treated as unchanged.
func (s Snapshot) Sub(prev Snapshot) Delta {
	return Delta{
		Elapsed:        s.Time.Sub(prev.Time),
		Captured:       sub(s.Captured, prev.Captured),
		Processed:      sub(s.Processed, prev.Processed),
		Dropped:        sub(s.Dropped, prev.Dropped),
		QueueDropped:   sub(s.QueueDropped, prev.QueueDropped),
		Errors:         sub(s.Errors, prev.Errors),
		Forwarded:      sub(s.Forwarded, prev.Forwarded),
		ForwardErrors:  sub(s.ForwardErrors, prev.ForwardErrors),
		ProcessingTime: max(s.ProcessingTime-prev.ProcessingTime, 0),
		DeviceReceived: sub(s.DeviceReceived, prev.DeviceReceived),
		DeviceDropped:  sub(s.DeviceDropped, prev.DeviceDropped),
	}
}

// Delta is the difference between two snapshots.
type Delta struct {
	Elapsed        time.Duration
	Captured       uint64
	Processed      uint64
	Dropped        uint64
	QueueDropped   uint64
	Errors         uint64
	Forwarded      uint64
	ForwardErrors  uint64
	ProcessingTime time.Duration
	DeviceReceived uint64
	DeviceDropped  uint64
}

// DropRatio is QueueDropped / Captured, 0 when nothing was captured.
func (d Delta) DropRatio() float64 {
	if d.Captured == 0 {
		return 0
	}
	return float64(d.QueueDropped) / float64(d.Captured)
}

// MeanProcessingTime is the average transformation time per processed record.
func (d Delta) MeanProcessingTime() time.Duration {
	if d.Processed == 0 {
		return 0
	}
	return d.ProcessingTime / time.Duration(d.Processed)
}

// Rate returns n per second over the delta's elapsed time.
func (d Delta) Rate(n uint64) float64 {
	if d.Elapsed <= 0 {
		return 0
	}
	return float64(n) / d.Elapsed.Seconds()
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
