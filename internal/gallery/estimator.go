package gallery

import (
	"fmt"
	"sync"
	"time"
)

// defaultEstimate is returned for classification keys with no recorded
// sample yet.
const defaultEstimate = time.Second

// Estimator keeps a rolling average fetch duration per query-shape
// classification key, so user-facing expectations for a request are
// based on how structurally similar requests performed, not on one
// polluted global number. The key-to-average map is plain data; an
// external store persists and restores it across runs.
type Estimator struct {
	mu   sync.Mutex
	avgs map[string]time.Duration
}

// NewEstimator creates an estimator with no recorded samples.
func NewEstimator() *Estimator {
	return &Estimator{avgs: make(map[string]time.Duration)}
}

// Classify derives the coarse key for a finished request: the content
// view, refined for filtered requests by the operator and value type of
// the first applied filter.
func Classify(shape Shape) string {
	if len(shape.Criteria) == 0 {
		return shape.View
	}

	first := shape.Criteria[0]

	return fmt.Sprintf("%s:%s:%s", shape.View, first.Operator, first.ValueType)
}

// Record folds a new sample into the key's rolling average:
// (previous + sample) / 2, or the sample itself for a first recording.
func (e *Estimator) Record(key string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.avgs[key]; ok {
		e.avgs[key] = (prev + d) / 2
		return
	}

	e.avgs[key] = d
}

// Estimate returns the stored average for a key, or the default when
// nothing has been recorded.
func (e *Estimator) Estimate(key string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if avg, ok := e.avgs[key]; ok {
		return avg
	}

	return defaultEstimate
}

// Snapshot returns a copy of the key-to-average map for persistence.
func (e *Estimator) Snapshot() map[string]time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]time.Duration, len(e.avgs))
	for k, v := range e.avgs {
		out[k] = v
	}

	return out
}

// Restore replaces the estimator's state with previously persisted
// averages.
func (e *Estimator) Restore(avgs map[string]time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.avgs = make(map[string]time.Duration, len(avgs))
	for k, v := range avgs {
		e.avgs[k] = v
	}
}
