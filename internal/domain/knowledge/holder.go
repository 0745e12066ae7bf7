package knowledge

import (
	"errors"
	"sync/atomic"
)

// ErrNotLoaded signals that no knowledge base has been compiled yet. It is
// the fatal "cannot rank" condition, distinct from an empty ranking result.
var ErrNotLoaded = errors.New("no knowledge base loaded")

// Holder publishes the current compiled model to concurrent readers. Swap
// replaces the snapshot atomically: rankings already running keep the model
// they started with.
type Holder struct {
	current atomic.Pointer[Base]
}

// NewHolder returns an empty Holder; Current fails with ErrNotLoaded until
// the first Swap.
func NewHolder() *Holder { return &Holder{} }

// Swap publishes b as the current model.
func (h *Holder) Swap(b *Base) { h.current.Store(b) }

// Current returns the latest published model.
func (h *Holder) Current() (*Base, error) {
	b := h.current.Load()
	if b == nil {
		return nil, ErrNotLoaded
	}
	return b, nil
}
