package filter

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/core"
)

// mockDevice records pushed filters and rejects clauses containing "bad".
type mockDevice struct {
	mu        sync.Mutex
	pushes    []string
	delay     time.Duration
	active    int
	maxActive int
}

func (d *mockDevice) SetFilter(expr string) error {
	d.mu.Lock()
	delay := d.delay
	d.active++
	d.maxActive = max(d.maxActive, d.active)
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.active--
	d.pushes = append(d.pushes, expr)
	if strings.Contains(expr, "bad") {
		return errors.New("syntax error in filter expression")
	}
	return nil
}

func (d *mockDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pushes)
}

func (d *mockDevice) history() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.pushes...)
}

func (d *mockDevice) setDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

func TestAddAndRemoveLast(t *testing.T) {
	dev := &mockDevice{}
	m := NewManager(dev, time.Second)

	require.NoError(t, m.AddFilter("", "tcp"))
	require.NoError(t, m.AddFilter("or", "udp"))
	assert.Equal(t, "tcp or udp", m.String())

	require.NoError(t, m.RemoveLastFilter())
	assert.Equal(t, "tcp", m.String())
	assert.Equal(t, []string{"tcp", "tcp or udp", "tcp"}, dev.pushes)
}

func TestFirstConnectorIgnored(t *testing.T) {
	m := NewManager(&mockDevice{}, 0)
	require.NoError(t, m.AddFilter("or", "icmp"))
	assert.Equal(t, "icmp", m.String())

	require.NoError(t, m.AddFilter("and", "host 10.0.0.1"))
	assert.Equal(t, "icmp and host 10.0.0.1", m.String())
}

func TestLaterClauseNeedsConnector(t *testing.T) {
	dev := &mockDevice{}
	m := NewManager(dev, time.Second)
	require.NoError(t, m.AddFilter("", "tcp"))

	err := m.AddFilter("", "udp")
	assert.ErrorIs(t, err, core.ErrFilterSyntax)
	assert.Equal(t, "tcp", m.String())
	assert.Equal(t, 1, dev.count())
}

func TestRejectedPushChangesNothing(t *testing.T) {
	dev := &mockDevice{}
	m := NewManager(dev, time.Second)
	require.NoError(t, m.AddFilter("", "tcp"))

	err := m.AddFilter("and", "bad clause")
	assert.ErrorIs(t, err, core.ErrFilterSyntax)
	assert.Equal(t, "tcp", m.String())

	err = m.AddFilter("xor", "udp")
	assert.ErrorIs(t, err, core.ErrFilterSyntax)
	assert.Equal(t, 2, dev.count(), "invalid connector is rejected before any push")
}

func TestRemoveFromEmptyIsNoop(t *testing.T) {
	dev := &mockDevice{}
	m := NewManager(dev, time.Second)

	assert.NoError(t, m.RemoveLastFilter())
	assert.NoError(t, m.RemoveAllFilters())
	assert.Zero(t, dev.count())
}

func TestRemoveAll(t *testing.T) {
	dev := &mockDevice{}
	m := NewManager(dev, time.Second)
	require.NoError(t, m.AddFilter("", "tcp"))
	require.NoError(t, m.AddFilter("and", "port 80"))

	require.NoError(t, m.RemoveAllFilters())
	assert.Empty(t, m.Filters())
	assert.Equal(t, "", dev.pushes[len(dev.pushes)-1])
}

func TestReplaceFilter(t *testing.T) {
	m := NewManager(&mockDevice{}, time.Second)
	require.NoError(t, m.AddFilter("", "tcp"))
	require.NoError(t, m.AddFilter("or", "udp"))

	require.NoError(t, m.ReplaceFilter("udp", "icmp"))
	assert.Equal(t, "tcp or icmp", m.String())

	err := m.ReplaceFilter("sctp", "udp")
	assert.ErrorIs(t, err, ErrClauseNotFound)

	err = m.ReplaceFilter("tcp", "bad")
	assert.ErrorIs(t, err, core.ErrFilterSyntax)
	assert.Equal(t, "tcp or icmp", m.String())
}

func TestPushTimeout(t *testing.T) {
	dev := &mockDevice{delay: 200 * time.Millisecond}
	m := NewManager(dev, 10*time.Millisecond)

	err := m.AddFilter("", "tcp")
	assert.ErrorIs(t, err, ErrPushTimeout)
	assert.ErrorIs(t, err, core.ErrCaptureDevice)
	assert.Empty(t, m.Filters())
}

func TestLatePushIsReverted(t *testing.T) {
	dev := &mockDevice{delay: 50 * time.Millisecond}
	m := NewManager(dev, 10*time.Millisecond)

	err := m.AddFilter("", "tcp")
	require.ErrorIs(t, err, ErrPushTimeout)
	assert.Equal(t, "", m.String())

	// the late push and its revert are still running, so nothing else is pushed
	err = m.AddFilter("", "udp")
	assert.ErrorIs(t, err, ErrPushTimeout)

	assert.Eventually(t, func() bool {
		h := dev.history()
		return len(h) == 2 && h[0] == "tcp" && h[1] == ""
	}, 2*time.Second, 5*time.Millisecond)

	dev.setDelay(0)
	require.NoError(t, m.AddFilter("", "udp"))
	assert.Equal(t, "udp", m.String())
	assert.Equal(t, []string{"tcp", "", "udp"}, dev.history())

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, 1, dev.maxActive)
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	m := NewManager(&mockDevice{}, time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.AddFilter("or", "udp")
		}()
	}
	wg.Wait()
	assert.Len(t, m.Filters(), 20)
}

func TestParseClause(t *testing.T) {
	tests := []struct {
		in, conn, expr string
	}{
		{"or udp port 53", "or", "udp port 53"},
		{"AND tcp", "and", "tcp"},
		{"tcp port 80", "", "tcp port 80"},
		{"  udp  ", "", "udp"},
		{"or", "", "or"},
	}
	for _, tt := range tests {
		conn, expr := ParseClause(tt.in)
		assert.Equal(t, tt.conn, conn, tt.in)
		assert.Equal(t, tt.expr, expr, tt.in)
	}
}
