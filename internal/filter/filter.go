// Package filter manages the capture filter as an ordered list of clauses.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/metrics"
)

var (
	// ErrClauseNotFound is returned by ReplaceFilter when the old clause is absent.
	ErrClauseNotFound = errors.New("netcap: filter clause not found")
	// ErrPushTimeout is returned when the device does not accept a filter in time.
	ErrPushTimeout = fmt.Errorf("%w: filter push timed out", core.ErrCaptureDevice)
)

// Connectors join a clause to the clauses before it.
const (
	And = "and"
	Or  = "or"
)

// Device accepts a rendered filter expression. An empty expression clears the filter.
type Device interface {
	SetFilter(expr string) error
}

// Clause is one filter clause and the connector joining it to the previous one.
// The connector of the first clause is ignored.
type Clause struct {
	Connector string
	Expr      string
}

// Manager serializes filter mutations and pushes each candidate to the device.
// A mutation is committed only when the device accepts it.
type Manager struct {
	mu      sync.Mutex
	dev     Device
	clauses []Clause
	timeout time.Duration
	logger  log.Logger

	// inflight is closed once a push that outlived its timeout has returned
	// and the device holds the committed filter again.
	inflight chan struct{}
}

// NewManager creates a manager. A timeout <= 0 waits for the device indefinitely.
func NewManager(dev Device, timeout time.Duration) *Manager {
	return &Manager{
		dev:     dev,
		timeout: timeout,
		logger:  log.GetLogger().WithField("component", "filter"),
	}
}

// ParseClause splits an optional leading connector from a clause,
// e.g. "or udp port 53" yields ("or", "udp port 53").
func ParseClause(s string) (connector, expr string) {
	s = strings.TrimSpace(s)
	head, rest, found := strings.Cut(s, " ")
	if found {
		switch strings.ToLower(head) {
		case And, Or:
			return strings.ToLower(head), strings.TrimSpace(rest)
		}
	}
	return "", s
}

// AddFilter appends a clause. The first clause's connector is ignored; every
// later clause needs an and/or connector.
func (m *Manager) AddFilter(connector, clause string) error {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return fmt.Errorf("%w: empty clause", core.ErrFilterSyntax)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	connector = strings.ToLower(strings.TrimSpace(connector))
	if len(m.clauses) > 0 {
		if connector == "" {
			return fmt.Errorf("%w: clause %q needs a connector (and/or)", core.ErrFilterSyntax, clause)
		}
		if connector != And && connector != Or {
			return fmt.Errorf("%w: invalid connector %q", core.ErrFilterSyntax, connector)
		}
	}

	candidate := append(m.snapshot(), Clause{Connector: connector, Expr: clause})
	return m.push(candidate)
}

// RemoveLastFilter drops the most recent clause. It is a no-op on an empty list.
func (m *Manager) RemoveLastFilter() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clauses) == 0 {
		return nil
	}
	return m.push(m.snapshot()[:len(m.clauses)-1])
}

// RemoveAllFilters clears the list. It is a no-op on an empty list.
func (m *Manager) RemoveAllFilters() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clauses) == 0 {
		return nil
	}
	return m.push(nil)
}

// ReplaceFilter replaces the first clause equal to oldExpr, keeping its connector.
func (m *Manager) ReplaceFilter(oldExpr, newExpr string) error {
	oldExpr, newExpr = strings.TrimSpace(oldExpr), strings.TrimSpace(newExpr)
	if newExpr == "" {
		return fmt.Errorf("%w: empty clause", core.ErrFilterSyntax)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := m.snapshot()
	for i := range candidate {
		if candidate[i].Expr == oldExpr {
			candidate[i].Expr = newExpr
			return m.push(candidate)
		}
	}
	return fmt.Errorf("%q: %w", oldExpr, ErrClauseNotFound)
}

// Filters returns a copy of the committed clauses.
func (m *Manager) Filters() []Clause {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// String renders the committed filter.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Render(m.clauses)
}

// Render joins clauses left to right: "c1 conn2 c2 conn3 c3".
func Render(clauses []Clause) string {
	var sb strings.Builder
	for i, c := range clauses {
		if i > 0 {
			sb.WriteByte(' ')
			sb.WriteString(c.Connector)
			sb.WriteByte(' ')
		}
		sb.WriteString(c.Expr)
	}
	return sb.String()
}

func (m *Manager) snapshot() []Clause {
	return append([]Clause(nil), m.clauses...)
}

// push hands the rendered candidate to the device and commits it on success.
// Callers hold m.mu.
func (m *Manager) push(candidate []Clause) error {
	expr := Render(candidate)

	err := m.setFilter(expr, Render(m.clauses))
	switch {
	case err == nil:
		metrics.FilterPushesTotal.WithLabelValues(metrics.ResultOK).Inc()
	case errors.Is(err, ErrPushTimeout):
		metrics.FilterPushesTotal.WithLabelValues(metrics.ResultTimeout).Inc()
		return err
	default:
		metrics.FilterPushesTotal.WithLabelValues(metrics.ResultError).Inc()
		if !errors.Is(err, core.ErrFilterSyntax) {
			err = fmt.Errorf("%w: %v", core.ErrFilterSyntax, err)
		}
		return err
	}

	m.clauses = candidate
	m.logger.WithField("filter", expr).Info("capture filter updated")
	return nil
}

// setFilter pushes expr within the timeout. A push that times out keeps
// running; when it returns, settle reverts the device to committed, and no
// other push starts before that.
func (m *Manager) setFilter(expr, committed string) error {
	if m.timeout <= 0 {
		return m.dev.SetFilter(expr)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	if m.inflight != nil {
		select {
		case <-m.inflight:
			m.inflight = nil
		case <-timer.C:
			m.logger.WithField("filter", expr).Warn("previous filter push still running")
			return ErrPushTimeout
		}
	}

	done := make(chan error, 1)
	go func() { done <- m.dev.SetFilter(expr) }()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		m.logger.WithField("filter", expr).Warnf("device did not accept filter within %s", m.timeout)
		inflight := make(chan struct{})
		m.inflight = inflight
		go m.settle(expr, committed, done, inflight)
		return ErrPushTimeout
	}
}

func (m *Manager) settle(expr, committed string, done <-chan error, inflight chan struct{}) {
	defer close(inflight)

	if err := <-done; err != nil {
		return
	}
	if err := m.dev.SetFilter(committed); err != nil {
		m.logger.WithError(err).WithField("filter", committed).Error("failed to restore filter after late push")
		return
	}
	m.logger.WithFields(map[string]interface{}{
		"late":     expr,
		"restored": committed,
	}).Warn("late filter push reverted")
}
