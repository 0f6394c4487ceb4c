package classifier

import "sync/atomic"

// Holder owns the active snapshot. Readers Load once per request and keep using that
// pointer; writers publish a new generation with a single Swap.
type Holder struct {
	active atomic.Pointer[Snapshot]
}

// NewHolder returns a holder with initial active, or the baseline when initial is nil
func NewHolder(initial *Snapshot) *Holder {
	if initial == nil {
		initial = Baseline()
	}
	h := &Holder{}
	h.active.Store(initial)
	return h
}

// Load returns the active snapshot
func (h *Holder) Load() *Snapshot {
	return h.active.Load()
}

// Swap installs next and returns the previous snapshot
func (h *Holder) Swap(next *Snapshot) *Snapshot {
	return h.active.Swap(next)
}
