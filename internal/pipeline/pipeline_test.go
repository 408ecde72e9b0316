package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
	"firestige.xyz/netcap/internal/stats"
	"firestige.xyz/netcap/internal/transform"
)

// Mock implementations for testing

// MockForwarder records delivered batches.
type MockForwarder struct {
	mu      sync.Mutex
	batches [][]any
	err     error
	block   chan struct{}
}

func (m *MockForwarder) Name() string { return "mock" }

func (m *MockForwarder) Forward(_ context.Context, records []any) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, append([]any(nil), records...))
	return nil
}

func (m *MockForwarder) Flush(context.Context) error { return nil }
func (m *MockForwarder) Close(context.Context) error { return nil }

func (m *MockForwarder) Records() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func (m *MockForwarder) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// firstByte yields the first byte, nothing for empty buffers, an error for
// 0xee and panics on 0xff.
var firstByte = &transform.Transform{Name: "first-byte", Apply: func(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	switch buf[0] {
	case 0xee:
		return nil, errors.New("bad record")
	case 0xff:
		panic("boom")
	}
	return int(buf[0]), nil
}}

func newEngine(t *transform.Transform, f *MockForwarder) (*Engine, *stats.Collector) {
	st := stats.NewCollector()
	return NewEngine(EngineConfig{Handle: NewHandle(t), Forwarder: f, Stats: st}), st
}

func TestEngine_Process(t *testing.T) {
	fwd := &MockForwarder{}
	e, st := newEngine(firstByte, fwd)
	ctx := context.Background()

	rec, ok := e.Process(ctx, []byte{7})
	assert.True(t, ok)
	assert.Equal(t, 7, rec)

	_, ok = e.Process(ctx, nil)
	assert.False(t, ok, "null result is a silent drop")

	_, ok = e.Process(ctx, []byte{0xee})
	assert.False(t, ok)
	_, ok = e.Process(ctx, []byte{0xff})
	assert.False(t, ok, "panic is recovered")

	assert.Equal(t, []any{7}, fwd.Records())
	s := st.Snapshot()
	assert.Equal(t, uint64(4), s.Processed)
	assert.Equal(t, uint64(1), s.Dropped)
	assert.Equal(t, uint64(2), s.Errors)
	assert.Equal(t, uint64(1), s.Forwarded)
}

func TestEngine_ProcessBulkContinuesAfterFailures(t *testing.T) {
	fwd := &MockForwarder{}
	e, st := newEngine(firstByte, fwd)

	out := e.ProcessBulk(context.Background(), [][]byte{{1}, {0xff}, {2}, {}, {0xee}, {3}})
	assert.Equal(t, []any{1, 2, 3}, out)
	assert.Equal(t, 1, fwd.Batches(), "one delivery per batch")
	assert.Equal(t, uint64(3), st.Forwarded.Load())
	assert.Equal(t, uint64(2), st.Errors.Load())
	assert.Equal(t, uint64(1), st.Dropped.Load())

	out = e.ProcessBulk(context.Background(), [][]byte{{}, {}})
	assert.Empty(t, out)
	assert.Equal(t, 1, fwd.Batches(), "empty results are not forwarded")
}

func TestEngine_ForwardErrorDoesNotStopExtraction(t *testing.T) {
	fwd := &MockForwarder{err: errors.New("sink down")}
	e, st := newEngine(firstByte, fwd)

	_, ok := e.Process(context.Background(), []byte{1})
	assert.True(t, ok)
	_, ok = e.Process(context.Background(), []byte{2})
	assert.True(t, ok)
	assert.Equal(t, uint64(2), st.ForwardErrors.Load())
	assert.Zero(t, st.Forwarded.Load())
}

func TestEngine_DebugStillCounts(t *testing.T) {
	st := stats.NewCollector()
	e := NewEngine(EngineConfig{Handle: NewHandle(firstByte), Stats: st, Debug: true})
	_, ok := e.Process(context.Background(), []byte{0xff})
	assert.False(t, ok)
	assert.Equal(t, uint64(1), st.Errors.Load())
}

func TestEngine_NilTransformationDrops(t *testing.T) {
	e, st := newEngine(nil, &MockForwarder{})
	_, ok := e.Process(context.Background(), []byte{1})
	assert.False(t, ok)
	assert.Equal(t, uint64(1), st.Dropped.Load())
}

func TestEngine_DSLTransformation(t *testing.T) {
	p, err := dsl.CompileText(`{fields: [{name: b, type: uint8, offset: 1}], output: csv}`)
	require.NoError(t, err)
	fwd := &MockForwarder{}
	e, _ := newEngine(transform.FromProgram("dsl", p), fwd)

	out := e.ProcessBulk(context.Background(), [][]byte{{0, 9}, {0}, {0, 8}})
	assert.Equal(t, []any{"9", "8"}, out)
}

// Readers racing a writer always see one whole transformation: records are
// tagged by the transformation that produced them, and a bulk call never mixes
// tags.
func TestEngine_ConcurrentSwap(t *testing.T) {
	tagged := func(tag string) *transform.Transform {
		return &transform.Transform{Name: tag, Apply: func([]byte) (any, error) { return tag, nil }}
	}
	a, b := tagged("a"), tagged("b")
	h := NewHandle(a)
	e := NewEngine(EngineConfig{Handle: h, Stats: stats.NewCollector()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for i := 0; ctx.Err() == nil; i++ {
			if i%2 == 0 {
				h.Swap(b)
			} else {
				h.Swap(a)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bufs := make([][]byte, 32)
			for i := range bufs {
				bufs[i] = []byte{1}
			}
			for i := 0; i < 200; i++ {
				out := e.ProcessBulk(context.Background(), bufs)
				for _, r := range out {
					assert.Equal(t, out[0], r)
				}
			}
		}()
	}
	wg.Wait()
}

func TestPipeline_ProcessesAndDrainsOnStop(t *testing.T) {
	fwd := &MockForwarder{}
	p := NewBuilder().
		WithHandle(NewHandle(firstByte)).
		WithForwarder(fwd).
		WithWorkers(2).
		WithQueue(128, OverflowBlock).
		Build()

	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 100; i++ {
		require.NoError(t, p.Submit(core.RawPacket{Data: []byte{byte(i)}}))
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Len(t, fwd.Records(), 100)
	s := p.Engine().stats.Snapshot()
	assert.Equal(t, uint64(100), s.Captured)
	assert.Equal(t, uint64(100), s.Forwarded)

	assert.ErrorIs(t, p.Submit(core.RawPacket{Data: []byte{1}}), core.ErrPipelineStopped)
	assert.NoError(t, p.Stop(context.Background()), "second stop is a no-op")
}

func TestPipeline_SubmitCopiesBuffer(t *testing.T) {
	fwd := &MockForwarder{}
	p := NewBuilder().WithHandle(NewHandle(firstByte)).WithForwarder(fwd).Build()

	buf := []byte{5}
	require.NoError(t, p.Submit(core.RawPacket{Data: buf}))
	buf[0] = 6

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, []any{5}, fwd.Records())
}

func TestPipeline_DropOnOverflow(t *testing.T) {
	fwd := &MockForwarder{block: make(chan struct{})}
	p := NewBuilder().
		WithHandle(NewHandle(firstByte)).
		WithForwarder(fwd).
		WithWorkers(1).
		WithQueue(2, OverflowDrop).
		Build()
	st := p.Engine().stats

	// Nothing consumes the queue before Start.
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(core.RawPacket{Data: []byte{1}}))
	}
	assert.Equal(t, uint64(5), st.Captured.Load())
	assert.Equal(t, uint64(3), st.QueueDropped.Load())
	assert.Equal(t, uint64(3), st.Dropped.Load())

	close(fwd.block)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.Len(t, fwd.Records(), 2)
}

func TestPipeline_BulkFlushesPartialBatchOnStop(t *testing.T) {
	fwd := &MockForwarder{}
	p := NewBuilder().
		WithHandle(NewHandle(firstByte)).
		WithForwarder(fwd).
		WithWorkers(1).
		WithBulk(64, time.Hour).
		Build()

	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 10; i++ {
		require.NoError(t, p.Submit(core.RawPacket{Data: []byte{byte(i)}}))
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, []any{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, fwd.Records())
	assert.Equal(t, 1, fwd.Batches())
}

func TestPipeline_BulkTimeoutFlushes(t *testing.T) {
	fwd := &MockForwarder{}
	p := NewBuilder().
		WithHandle(NewHandle(firstByte)).
		WithForwarder(fwd).
		WithBulk(64, 10*time.Millisecond).
		Build()

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(core.RawPacket{Data: []byte{1}}))
	assert.Eventually(t, func() bool { return len(fwd.Records()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPipeline_StopTimeout(t *testing.T) {
	fwd := &MockForwarder{block: make(chan struct{})}
	defer close(fwd.block)
	p := NewBuilder().WithHandle(NewHandle(firstByte)).WithForwarder(fwd).Build()

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(core.RawPacket{Data: []byte{1}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}

func TestParseOverflow(t *testing.T) {
	o, err := ParseOverflow("")
	require.NoError(t, err)
	assert.Equal(t, OverflowDrop, o)

	o, err = ParseOverflow("block")
	require.NoError(t, err)
	assert.Equal(t, OverflowBlock, o)

	_, err = ParseOverflow("spill")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
