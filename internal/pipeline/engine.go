package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/forward"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/metrics"
	"firestige.xyz/netcap/internal/stats"
	"firestige.xyz/netcap/internal/transform"
)

// Engine applies the active transformation to buffers and hands the results
// to the forwarder. It is safe for concurrent use.
type Engine struct {
	handle    *Handle
	forwarder forward.Forwarder
	stats     *stats.Collector
	debug     bool
	logger    log.Logger
}

// EngineConfig contains engine dependencies.
type EngineConfig struct {
	Handle    *Handle
	Forwarder forward.Forwarder
	Stats     *stats.Collector
	Debug     bool // log per-record failures with stack traces
	Logger    log.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.GetLogger().WithField("component", "engine")
	}
	return &Engine{
		handle:    cfg.Handle,
		forwarder: cfg.Forwarder,
		stats:     cfg.Stats,
		debug:     cfg.Debug,
		logger:    cfg.Logger,
	}
}

// Process transforms one buffer and forwards the record. ok is false when the
// buffer was dropped or failed.
func (e *Engine) Process(ctx context.Context, buf []byte) (any, bool) {
	t := e.handle.Load()

	rec, ok := e.apply(t, buf)
	if !ok {
		return nil, false
	}
	e.forward(ctx, []any{rec})
	return rec, true
}

// ProcessBulk transforms a batch with a single view of the active
// transformation. Failed buffers are omitted; the surviving records are
// forwarded together in input order.
func (e *Engine) ProcessBulk(ctx context.Context, bufs [][]byte) []any {
	t := e.handle.Load()

	out := make([]any, 0, len(bufs))
	for _, buf := range bufs {
		if rec, ok := e.apply(t, buf); ok {
			out = append(out, rec)
		}
	}
	if len(out) > 0 {
		e.forward(ctx, out)
	}
	return out
}

// apply runs one record through t, counting the outcome. A failure or panic
// is contained to this record.
func (e *Engine) apply(t *transform.Transform, buf []byte) (rec any, ok bool) {
	e.stats.Processed.Add(1)
	if t == nil {
		e.stats.Dropped.Add(1)
		return nil, false
	}

	start := time.Now()
	defer func() {
		e.stats.AddProcessingTime(time.Since(start))
		if r := recover(); r != nil {
			e.fail(t, fmt.Errorf("%w: panic: %v", core.ErrExtraction, r), debug.Stack())
			rec, ok = nil, false
		}
	}()

	rec, err := t.Apply(buf)
	if err != nil {
		e.fail(t, fmt.Errorf("%w: %w", core.ErrExtraction, err), nil)
		return nil, false
	}
	if rec == nil {
		e.stats.Dropped.Add(1)
		return nil, false
	}
	return rec, true
}

func (e *Engine) fail(t *transform.Transform, err error, stack []byte) {
	e.stats.Errors.Add(1)
	if !e.debug {
		return
	}
	l := e.logger.WithError(err).WithField("transformation", t.Name)
	if stack != nil {
		l = l.WithField("stack", string(stack))
	}
	l.Error("record transformation failed")
}

func (e *Engine) forward(ctx context.Context, records []any) {
	if e.forwarder == nil {
		return
	}
	metrics.ForwarderBatchSize.WithLabelValues(e.forwarder.Name()).Observe(float64(len(records)))

	if err := e.forwarder.Forward(ctx, records); err != nil {
		e.stats.ForwardErrors.Add(1)
		e.logger.WithError(err).WithField("forwarder", e.forwarder.Name()).
			Warnf("failed to forward %d record(s)", len(records))
		return
	}
	e.stats.Forwarded.Add(uint64(len(records)))
}
