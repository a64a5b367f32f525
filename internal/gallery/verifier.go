package gallery

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// progressCadence is how many probe results are collected before they
// are applied to the collection and reported to the progress hook.
// Purely a UI-feedback cadence, no correctness implication.
const progressCadence = 16

// Verifier is the bounded-concurrency follow-up pass that probes
// whether each reconciled entity's backing resource still exists. It
// runs detached from the reconcile pass and re-checks epoch staleness
// before applying any batch of results.
type Verifier struct {
	col     *Collection
	tracker *Tracker
	prober  Prober
	logger  *slog.Logger
	limit   int

	// onProgress, when set, receives coarse done/total counts at the
	// apply cadence.
	onProgress func(done, total int)
}

type probeResult struct {
	id      string
	missing bool
}

// Verify probes every entity with at most limit outstanding probes,
// marking broken flags in batches. A failed probe counts as missing:
// the recovery path downstream is the same either way, so the verifier
// fails closed. Stale results are silently discarded.
func (v *Verifier) Verify(ctx context.Context, epoch Epoch, entities []*Entity) {
	total := len(entities)
	if total == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(v.limit))
	results := make(chan probeResult)

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		defer wg.Wait()

		for _, ent := range entities {
			if v.tracker.IsStale(epoch) {
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}

			wg.Add(1)

			go func(ent *Entity) {
				defer wg.Done()
				defer sem.Release(1)

				exists, err := v.prober.Exists(ctx, ent.Locator)
				if err != nil {
					v.logger.Debug("existence probe failed, treating as missing",
						slog.String("path", ent.DisplayPath),
						slog.String("error", err.Error()),
					)
				}

				results <- probeResult{id: ent.ID, missing: err != nil || !exists}
			}(ent)
		}
	}()

	pending := make(map[string]bool, progressCadence)
	done := 0

	for r := range results {
		pending[r.id] = r.missing
		done++

		if len(pending) < progressCadence {
			continue
		}

		if !v.apply(epoch, pending) {
			// Stale: drain so the probe goroutines can finish, then
			// drop everything on the floor.
			for range results {
			}

			return
		}

		pending = make(map[string]bool, progressCadence)

		if v.onProgress != nil {
			v.onProgress(done, total)
		}
	}

	if !v.apply(epoch, pending) {
		return
	}

	if v.onProgress != nil {
		v.onProgress(done, total)
	}

	_, _, broken := v.col.Counts()
	v.logger.Debug("existence pass finished",
		slog.Int("probed", done),
		slog.Int("broken", broken),
	)
}

// apply commits a batch of probe results unless the epoch went stale,
// in which case the batch (and everything after it) is discarded.
func (v *Verifier) apply(epoch Epoch, missing map[string]bool) bool {
	if v.tracker.IsStale(epoch) {
		v.logger.Debug("discarding stale existence results", slog.Int("count", len(missing)))
		return false
	}

	if len(missing) > 0 {
		v.col.SetBroken(missing)
	}

	return true
}
