// Package adapt trades extraction completeness for throughput at runtime.
//
// The controller samples the stats collector periodically. When the intake
// queue starts dropping (or records take too long to process) it steps the
// active DSL expression down to fewer fields, and once load has stayed quiet
// for long enough it restores the full expression.
package adapt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/netcap/internal/dsl"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/metrics"
	"firestige.xyz/netcap/internal/stats"
	"firestige.xyz/netcap/internal/transform"
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Monitoring
	Adjusting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case Adjusting:
		return "adjusting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Compiler compiles expressions, typically a *dsl.Cache.
type Compiler interface {
	Compile(expr *dsl.Expression) (*dsl.Program, error)
}

// Publisher receives each new transformation, typically a *pipeline.Handle.
type Publisher interface {
	Swap(t *transform.Transform) *transform.Transform
}

// Config tunes the controller.
type Config struct {
	Target            *dsl.Expression
	Threshold         float64       // queue drop ratio above which load is too high
	Interpolation     int           // number of levels between one field and the full expression
	Inactivity        int           // quiet samples before the full expression is restored
	PreferScaleDown   bool          // step down when only processing time exceeds its bound
	MaxProcessingTime time.Duration // mean per-record bound, 0 disables
}

// Status is a read-only view of the controller.
type Status struct {
	State State
	Level int
	Steps int
	Quiet int
}

func (s Status) String() string {
	return fmt.Sprintf("sa=%s level=%d/%d quiet=%d", s.State, s.Level, s.Steps, s.Quiet)
}

// Controller is the self-adaptation state machine.
type Controller struct {
	cfg       Config
	compiler  Compiler
	publisher Publisher
	logger    log.Logger

	mu      sync.Mutex
	state   State
	level   int
	quiet   int
	prev    stats.Snapshot
	hasPrev bool
}

// New creates a controller at the full level. The target must compile.
func New(cfg Config, compiler Compiler, publisher Publisher) (*Controller, error) {
	if cfg.Target == nil {
		return nil, fmt.Errorf("self-adaptation requires a target expression")
	}
	if cfg.Interpolation < 1 {
		cfg.Interpolation = 1
	}
	if cfg.Inactivity < 1 {
		cfg.Inactivity = 1
	}
	if _, err := compiler.Compile(cfg.Target); err != nil {
		return nil, fmt.Errorf("self-adaptation target: %w", err)
	}

	metrics.AdaptationLevel.Set(float64(cfg.Interpolation))
	return &Controller{
		cfg:       cfg,
		compiler:  compiler,
		publisher: publisher,
		logger:    log.GetLogger().WithField("component", "adapt"),
		level:     cfg.Interpolation,
	}, nil
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Level: c.level, Steps: c.cfg.Interpolation, Quiet: c.quiet}
}

// SetTarget makes expr the full expression and publishes t, its compiled
// form. Adaptation continues from the full level of the new target.
func (c *Controller) SetTarget(expr *dsl.Expression, t *transform.Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Target = expr.Clone()
	c.level = c.cfg.Interpolation
	c.quiet = 0
	if c.state == Adjusting {
		c.state = Monitoring
	}
	c.publisher.Swap(t)
	metrics.AdaptationLevel.Set(float64(c.level))
	c.logger.WithField("fields", len(expr.Fields)).Info("self-adaptation target replaced")
}

// Run ticks every interval with a snapshot from source until ctx is done.
func (c *Controller) Run(ctx context.Context, source func() stats.Snapshot, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Tick(source())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(source())
		}
	}
}

// Tick feeds one sample and performs at most one transition.
func (c *Controller) Tick(s stats.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPrev {
		c.prev, c.hasPrev = s, true
		c.state = Monitoring
		return
	}
	d := s.Sub(c.prev)
	c.prev = s
	exceeded := c.exceeded(d)

	switch c.state {
	case Idle:
		c.state = Monitoring

	case Monitoring:
		if exceeded {
			if c.stepDown(d) {
				c.state = Adjusting
				c.quiet = 0
			}
		}

	case Adjusting:
		if exceeded {
			c.quiet = 0
			if c.level > 0 {
				c.stepDown(d)
			}
			return
		}
		c.quiet++
		if c.quiet >= c.cfg.Inactivity {
			if c.publish(c.cfg.Interpolation, metrics.DirectionRestore) {
				c.logger.WithField("level", c.level).Info("load quiet, full expression restored")
				c.state = Idle
				c.quiet = 0
			}
		}
	}
}

// exceeded evaluates the load signals of one sample.
func (c *Controller) exceeded(d stats.Delta) bool {
	dropping := d.Captured > 0 && d.DropRatio() > c.cfg.Threshold
	slow := c.cfg.MaxProcessingTime > 0 && d.Processed > 0 && d.MeanProcessingTime() > c.cfg.MaxProcessingTime
	if dropping {
		return true
	}
	return slow && c.cfg.PreferScaleDown
}

func (c *Controller) stepDown(d stats.Delta) bool {
	level := max(c.level-1, 0)
	if !c.publish(level, metrics.DirectionDown) {
		return false
	}
	c.logger.WithFields(map[string]interface{}{
		"level":      c.level,
		"drop_ratio": d.DropRatio(),
		"mean_tr":    d.MeanProcessingTime().String(),
	}).Info("load too high, stepping down")
	return true
}

// publish compiles the expression for level and swaps it in. On failure the
// previous transformation and level are kept.
func (c *Controller) publish(level int, direction string) bool {
	expr := dsl.Subset(c.cfg.Target, level, c.cfg.Interpolation)
	prog, err := c.compiler.Compile(expr)
	if err != nil {
		c.logger.WithError(err).WithField("level", level).Error("failed to compile adapted expression")
		return false
	}

	c.publisher.Swap(transform.FromProgram(fmt.Sprintf("sa-level-%d", level), prog))
	c.level = level
	metrics.AdaptationLevel.Set(float64(level))
	metrics.AdaptationTransitionsTotal.WithLabelValues(direction).Inc()
	metrics.TransformSwapsTotal.WithLabelValues("adapt").Inc()
	return true
}
