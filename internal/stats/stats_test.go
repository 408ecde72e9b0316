package stats

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentIncrements(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Captured.Add(1)
				c.Processed.Add(1)
				c.AddProcessingTime(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, uint64(8000), s.Captured)
	assert.Equal(t, uint64(8000), s.Processed)
	assert.Equal(t, 8000*time.Microsecond, s.ProcessingTime)
}

func TestSnapshotIsImmutable(t *testing.T) {
	c := NewCollector()
	c.Captured.Add(3)
	s := c.Snapshot()
	c.Captured.Add(2)

	assert.Equal(t, uint64(3), s.Captured)
	assert.Equal(t, uint64(5), c.Snapshot().Captured, "reading never resets")
}

func TestDelta(t *testing.T) {
	now := time.Now()
	prev := Snapshot{Time: now, Captured: 100, QueueDropped: 10, Processed: 90, ProcessingTime: time.Second}
	cur := Snapshot{Time: now.Add(2 * time.Second), Captured: 300, QueueDropped: 60, Processed: 190, ProcessingTime: 2 * time.Second}

	d := cur.Sub(prev)
	assert.Equal(t, uint64(200), d.Captured)
	assert.Equal(t, 0.25, d.DropRatio())
	assert.Equal(t, 10*time.Millisecond, d.MeanProcessingTime())
	assert.Equal(t, 100.0, d.Rate(d.Captured))

	assert.Zero(t, Delta{}.DropRatio())
	assert.Zero(t, Delta{}.MeanProcessingTime())
	assert.Zero(t, Delta{}.Rate(5))
}

func TestPrinter(t *testing.T) {
	c := NewCollector()
	var buf bytes.Buffer
	p := NewPrinter(c, &buf, time.Hour, func() string { return "sa=idle" })

	c.Captured.Add(4)
	c.Forwarded.Add(3)
	p.Print()
	assert.Contains(t, buf.String(), "captured=4")
	assert.Contains(t, buf.String(), "forwarded=3")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "sa=idle"))

	buf.Reset()
	p.Print()
	assert.Contains(t, buf.String(), "captured=0", "lines show deltas")
}

func TestPrinterRunPrintsTotalsOnCancel(t *testing.T) {
	c := NewCollector()
	c.Captured.Add(7)
	var buf bytes.Buffer
	p := NewPrinter(c, &buf, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
	assert.Contains(t, buf.String(), "total: captured=7")
}

func TestPrometheusCollector(t *testing.T) {
	c := NewCollector()
	c.Captured.Add(2)
	c.QueueDropped.Add(1)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 10)

	values := make(map[string]float64)
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		values[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, values["netcap_captured_total"])
	assert.Equal(t, 1.0, values["netcap_queue_dropped_total"])
	assert.Equal(t, 0.0, values["netcap_errors_total"])
}
