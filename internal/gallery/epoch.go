package gallery

import (
	"sync"
	"time"
)

// Epoch identifies one authoritative synchronization request as an
// (id, step) pair. The id marks the logical request; the step
// disambiguates re-entrant reconcile passes within it. Exactly one
// Epoch is authoritative per Tracker at any instant.
type Epoch struct {
	id   int64
	step int64
}

// Tracker issues and compares epochs. It is the sole arbiter of which
// request is authoritative; superseded work only notices the change
// cooperatively through IsStale.
type Tracker struct {
	mu      sync.Mutex
	current Epoch
}

// NewTracker creates a tracker with no authoritative epoch. The first
// Begin call supersedes the zero value.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin allocates a fresh, strictly increasing epoch and atomically
// makes it authoritative, resetting the sub-step. Ids come from the
// wall clock with a monotonic guard for same-nanosecond calls.
func (t *Tracker) Begin() Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := time.Now().UnixNano()
	if id <= t.current.id {
		id = t.current.id + 1
	}

	t.current = Epoch{id: id}

	return t.current
}

// MarkStep records a new sub-step for e and returns the updated pair
// the caller should hold from now on. Only the latest sub-step's
// results are ever committed. If e is no longer authoritative the pair
// is returned unchanged; it will report stale.
func (t *Tracker) MarkStep(e Epoch) Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.id != t.current.id {
		return e
	}

	t.current.step++

	return t.current
}

// IsStale reports whether e no longer matches the authoritative pair,
// in either the epoch id or the sub-step.
func (t *Tracker) IsStale(e Epoch) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return e != t.current
}
