// Package pipeline moves captured buffers through the active transformation
// to the forwarder.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/stats"
)

// Overflow selects what Submit does when the intake queue is full.
type Overflow string

const (
	OverflowDrop  Overflow = "drop"
	OverflowBlock Overflow = "block"
)

// ParseOverflow validates an overflow policy name.
func ParseOverflow(s string) (Overflow, error) {
	switch Overflow(s) {
	case OverflowDrop, "":
		return OverflowDrop, nil
	case OverflowBlock:
		return OverflowBlock, nil
	}
	return "", fmt.Errorf("%w: unknown overflow policy %q", core.ErrConfigInvalid, s)
}

// Pipeline is a bounded intake queue drained by a pool of workers running the engine.
type Pipeline struct {
	engine      *Engine
	stats       *stats.Collector
	overflow    Overflow
	workers     int
	bulkSize    int
	bulkTimeout time.Duration
	logger      log.Logger

	// Runtime state
	mu      sync.RWMutex
	closed  bool
	started bool
	wg      conc.WaitGroup

	// Channel for backpressure control
	queue chan core.RawPacket
}

// Config contains pipeline configuration.
type Config struct {
	Engine      *Engine
	Stats       *stats.Collector
	Workers     int
	QueueSize   int // Intake queue capacity
	Overflow    Overflow
	BulkSize    int // > 1 batches records per ProcessBulk call
	BulkTimeout time.Duration
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024 // Default queue size
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowDrop
	}
	if cfg.BulkSize < 1 {
		cfg.BulkSize = 1
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = 100 * time.Millisecond
	}
	if cfg.Stats == nil {
		cfg.Stats = cfg.Engine.stats
	}

	return &Pipeline{
		engine:      cfg.Engine,
		stats:       cfg.Stats,
		overflow:    cfg.Overflow,
		workers:     cfg.Workers,
		bulkSize:    cfg.BulkSize,
		bulkTimeout: cfg.BulkTimeout,
		logger:      log.GetLogger().WithField("component", "pipeline"),
		queue:       make(chan core.RawPacket, cfg.QueueSize),
	}
}

// Start launches the workers. Records produced after ctx is cancelled are
// still forwarded; use Stop to end processing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPipelineStopped
	}
	if p.started {
		return fmt.Errorf("pipeline already started")
	}
	p.started = true

	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		if p.bulkSize > 1 {
			p.wg.Go(func() { p.bulkLoop(workCtx) })
		} else {
			p.wg.Go(func() { p.processLoop(workCtx) })
		}
	}

	p.logger.WithFields(map[string]interface{}{
		"workers":    p.workers,
		"queue_size": cap(p.queue),
		"bulk_size":  p.bulkSize,
		"overflow":   string(p.overflow),
	}).Info("pipeline started")
	return nil
}

// Submit enqueues a captured packet. The data is copied, so the caller may
// reuse its buffer. It returns ErrPipelineStopped once Stop has been called.
func (p *Pipeline) Submit(pkt core.RawPacket) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return core.ErrPipelineStopped
	}

	p.stats.Captured.Add(1)
	pkt.Data = append([]byte(nil), pkt.Data...)

	if p.overflow == OverflowBlock {
		p.queue <- pkt
		return nil
	}
	select {
	case p.queue <- pkt:
	default:
		p.stats.Dropped.Add(1)
		p.stats.QueueDropped.Add(1)
	}
	return nil
}

// Len returns the number of queued packets.
func (p *Pipeline) Len() int { return len(p.queue) }

// Stop closes intake and waits until queued packets and partial batches have
// been processed, or ctx is done.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain: %w", ctx.Err())
	}
}

// processLoop handles one packet at a time until the queue is closed and empty.
func (p *Pipeline) processLoop(ctx context.Context) {
	for pkt := range p.queue {
		p.engine.Process(ctx, pkt.Data)
	}
}

// bulkLoop collects packets into batches and flushes on size or timeout.
func (p *Pipeline) bulkLoop(ctx context.Context) {
	batch := make([][]byte, 0, p.bulkSize)
	ticker := time.NewTicker(p.bulkTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.engine.ProcessBulk(ctx, batch)
		batch = make([][]byte, 0, p.bulkSize)
	}

	for {
		select {
		case pkt, ok := <-p.queue:
			if !ok {
				// Queue closed, flush the partial batch and exit
				flush()
				return
			}
			batch = append(batch, pkt.Data)
			if len(batch) >= p.bulkSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
