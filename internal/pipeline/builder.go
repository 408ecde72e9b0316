package pipeline

import (
	"time"

	"firestige.xyz/netcap/internal/forward"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/stats"
)

// Builder provides a fluent interface for assembling an engine and pipeline.
type Builder struct {
	engine EngineConfig
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			QueueSize: 1024, // default
			Overflow:  OverflowDrop,
		},
	}
}

// WithHandle sets the active transformation handle.
func (b *Builder) WithHandle(h *Handle) *Builder {
	b.engine.Handle = h
	return b
}

// WithForwarder sets the record sink.
func (b *Builder) WithForwarder(f forward.Forwarder) *Builder {
	b.engine.Forwarder = f
	return b
}

// WithStats sets the stats collector shared by engine and queue.
func (b *Builder) WithStats(s *stats.Collector) *Builder {
	b.engine.Stats = s
	b.config.Stats = s
	return b
}

// WithDebug enables logging of per-record failures.
func (b *Builder) WithDebug(debug bool) *Builder {
	b.engine.Debug = debug
	return b
}

// WithLogger sets the engine logger.
func (b *Builder) WithLogger(l log.Logger) *Builder {
	b.engine.Logger = l
	return b
}

// WithWorkers sets the number of workers.
func (b *Builder) WithWorkers(n int) *Builder {
	b.config.Workers = n
	return b
}

// WithQueue sets the intake queue capacity and overflow policy.
func (b *Builder) WithQueue(size int, overflow Overflow) *Builder {
	b.config.QueueSize = size
	b.config.Overflow = overflow
	return b
}

// WithBulk enables batched processing.
func (b *Builder) WithBulk(size int, timeout time.Duration) *Builder {
	b.config.BulkSize = size
	b.config.BulkTimeout = timeout
	return b
}

// Build creates the engine and the pipeline around it.
func (b *Builder) Build() *Pipeline {
	if b.engine.Stats == nil {
		b.engine.Stats = stats.NewCollector()
		b.config.Stats = b.engine.Stats
	}
	cfg := b.config
	cfg.Engine = NewEngine(b.engine)
	return New(cfg)
}

// Engine returns the engine of a built pipeline.
func (p *Pipeline) Engine() *Engine { return p.engine }
