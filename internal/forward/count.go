package forward

import (
	"context"
	"sync/atomic"

	"firestige.xyz/netcap/internal/log"
)

// CountForwarder discards records and counts them. Useful for measuring
// extraction throughput without output cost.
type CountForwarder struct {
	records atomic.Uint64
	batches atomic.Uint64
}

// NewCount creates a counting forwarder.
func NewCount(Config) (Forwarder, error) {
	return &CountForwarder{}, nil
}

func (f *CountForwarder) Name() string { return "count" }

func (f *CountForwarder) Forward(_ context.Context, records []any) error {
	f.records.Add(uint64(len(records)))
	f.batches.Add(1)
	return nil
}

func (f *CountForwarder) Flush(context.Context) error { return nil }

func (f *CountForwarder) Close(context.Context) error {
	log.GetLogger().WithFields(map[string]interface{}{
		"records": f.records.Load(),
		"batches": f.batches.Load(),
	}).Info("count forwarder closed")
	return nil
}

// Records returns the number of records seen.
func (f *CountForwarder) Records() uint64 { return f.records.Load() }
