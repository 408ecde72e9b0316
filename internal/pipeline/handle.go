package pipeline

import (
	"sync/atomic"

	"firestige.xyz/netcap/internal/transform"
)

// Handle is the slot holding the active transformation. Readers load it once
// per call; writers publish a whole new transformation atomically.
type Handle struct {
	active atomic.Pointer[transform.Transform]
}

// NewHandle creates a handle holding t.
func NewHandle(t *transform.Transform) *Handle {
	h := &Handle{}
	h.active.Store(t)
	return h
}

// Load returns the active transformation.
func (h *Handle) Load() *transform.Transform { return h.active.Load() }

// Swap publishes t and returns the previous transformation.
func (h *Handle) Swap(t *transform.Transform) *transform.Transform { return h.active.Swap(t) }
