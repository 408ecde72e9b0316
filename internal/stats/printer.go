package stats

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StatusFunc supplies extra status shown on each line, e.g. the adaptation state.
type StatusFunc func() string

// Printer periodically writes counter deltas and rates.
type Printer struct {
	collector *Collector
	out       io.Writer
	interval  time.Duration
	status    StatusFunc
	prev      Snapshot
}

// NewPrinter creates a printer. status may be nil.
func NewPrinter(c *Collector, out io.Writer, interval time.Duration, status StatusFunc) *Printer {
	return &Printer{
		collector: c,
		out:       out,
		interval:  interval,
		status:    status,
		prev:      c.Snapshot(),
	}
}

// Run prints until ctx is done, then prints the totals once.
func (p *Printer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.PrintTotals()
			return
		case <-ticker.C:
			p.Print()
		}
	}
}

// Print writes one line describing the change since the previous call.
func (p *Printer) Print() {
	cur := p.collector.Snapshot()
	d := cur.Sub(p.prev)
	p.prev = cur

	line := fmt.Sprintf("captured=%d (%.1f/s) processed=%d (%.1f/s) forwarded=%d dropped=%d queue_dropped=%d errors=%d forward_errors=%d mean_tr=%s",
		d.Captured, d.Rate(d.Captured),
		d.Processed, d.Rate(d.Processed),
		d.Forwarded, d.Dropped, d.QueueDropped, d.Errors, d.ForwardErrors,
		d.MeanProcessingTime())
	if p.status != nil {
		line += " " + p.status()
	}
	fmt.Fprintln(p.out, line)
}

// PrintTotals writes the cumulative counters.
func (p *Printer) PrintTotals() {
	s := p.collector.Snapshot()
	fmt.Fprintf(p.out, "total: captured=%d processed=%d forwarded=%d dropped=%d queue_dropped=%d errors=%d forward_errors=%d device_received=%d device_dropped=%d uptime=%s\n",
		s.Captured, s.Processed, s.Forwarded, s.Dropped, s.QueueDropped, s.Errors, s.ForwardErrors,
		s.DeviceReceived, s.DeviceDropped, s.Uptime.Truncate(time.Millisecond))
}
