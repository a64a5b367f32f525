package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/pianissi/gallery-sync/internal/errors"
)

// RunResult is the outcome of one reconciliation run. Staleness is not
// an error: an aborted run is the expected fate of superseded work.
type RunResult int

const (
	RunSuccess RunResult = iota
	RunAborted
)

func (r RunResult) String() string {
	if r == RunAborted {
		return "aborted"
	}

	return "success"
}

// Options tunes the reconciliation scheduler and existence verifier.
type Options struct {
	// BatchSize is the number of collection positions reconciled per
	// batch.
	BatchSize int

	// ProbeConcurrency bounds the verifier's outstanding probes.
	ProbeConcurrency int

	// AnchorDelay is the pause inserted after committing the anchor
	// batch, letting one render pass observe the region the user is
	// looking at before the remaining batches are processed.
	AnchorDelay time.Duration

	// OnVerifyProgress, when set, receives coarse done/total probe
	// counts from the existence verifier.
	OnVerifyProgress func(done, total int)
}

// Store keeps the observable collection synchronized with the record
// source. Starting a new request supersedes the in-flight one; there is
// no separate cancel call.
type Store struct {
	col       *Collection
	tracker   *Tracker
	source    RecordSource
	prober    Prober
	derive    DerivePath
	estimator *Estimator
	logger    *slog.Logger
	opts      Options
}

// NewStore wires a store from its collaborators. All dependencies are
// injected; nothing is reached through ambient state.
func NewStore(source RecordSource, prober Prober, derive DerivePath, estimator *Estimator, logger *slog.Logger, opts Options) *Store {
	return &Store{
		col:       NewCollection(),
		tracker:   NewTracker(),
		source:    source,
		prober:    prober,
		derive:    derive,
		estimator: estimator,
		logger:    logger,
		opts:      opts,
	}
}

// Collection returns the observable collection the store maintains.
func (s *Store) Collection() *Collection {
	return s.col
}

// Estimate returns the expected duration for a fetch of the given
// shape, for user-facing progress and timeout behavior.
func (s *Store) Estimate(shape Shape) time.Duration {
	return s.estimator.Estimate(Classify(shape))
}

// Fetch synchronizes the collection with the source's full result set
// in the given order. anchorIndex is the position the user is currently
// focused on; batches nearest it are reconciled first.
func (s *Store) Fetch(ctx context.Context, order Order, anchorIndex int) (RunResult, error) {
	shape := Shape{View: "all"}

	return s.sync(ctx, shape, anchorIndex, func(ctx context.Context) ([]SourceRecord, error) {
		return s.source.Fetch(ctx, order)
	})
}

// Search synchronizes the collection with the records matching the
// given criteria.
func (s *Store) Search(ctx context.Context, criteria []Criteria, order Order, matchAny bool, anchorIndex int) (RunResult, error) {
	shape := Shape{View: "search", Criteria: criteria}

	return s.sync(ctx, shape, anchorIndex, func(ctx context.Context) ([]SourceRecord, error) {
		return s.source.Search(ctx, criteria, order, matchAny)
	})
}

// sync is the common entry point: allocate an epoch, await the source,
// run the batch-ordered reconcile pass, detach verification, and record
// the duration sample.
func (s *Store) sync(ctx context.Context, shape Shape, anchorIndex int, fetch func(context.Context) ([]SourceRecord, error)) (RunResult, error) {
	start := time.Now()
	epoch := s.tracker.Begin()

	records, err := fetch(ctx)
	if err != nil {
		// Hard error: nothing was committed, the previous collection
		// stays visible.
		return RunAborted, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}

	// The fetch may have outlived a superseding request. Bail before
	// touching the collection.
	if s.tracker.IsStale(epoch) {
		s.logger.Debug("sync superseded during fetch", slog.String("view", shape.View))
		return RunAborted, nil
	}

	// Mark a fresh sub-step so a re-entrant reconcile of the same
	// logical request supersedes any earlier pass still in flight.
	epoch = s.tracker.MarkStep(epoch)

	result := s.run(ctx, epoch, records, anchorIndex)

	s.logger.Info("sync finished",
		slog.String("view", shape.View),
		slog.String("result", result.String()),
		slog.Int("records", len(records)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if result == RunSuccess {
		s.estimator.Record(Classify(shape), time.Since(start))

		// Detached follow-up pass: survives the caller's cancellation,
		// re-checks epoch staleness on its own before applying results.
		verifyCtx := context.WithoutCancel(ctx)
		entities := s.col.Entities()

		go s.newVerifier().Verify(verifyCtx, epoch, entities)
	}

	return result, nil
}

// run executes the batch-ordered diff/merge pass for one epoch. Reuse
// decisions are made against a snapshot taken up front; commits by this
// run do not feed back into its own planning.
func (s *Store) run(ctx context.Context, epoch Epoch, records []SourceRecord, anchorIndex int) RunResult {
	oldItems, oldIndex := s.col.Snapshot()

	total := len(records)
	if total == 0 {
		s.col.BeginRun(0)
		s.disposeUnused(oldItems, nil)

		return RunSuccess
	}

	plan := planBatches(total, anchorIndex, s.opts.BatchSize)
	s.col.BeginRun(total)

	reused := make(map[string]struct{})
	aborted := false

	for i, batchIndex := range plan.visitOrder {
		start, end := plan.clampedRange(batchIndex, total)

		batch := make([]*Entity, 0, end-start)

		for pos := start; pos < end; pos++ {
			rec := records[pos]

			var existing *Entity
			if oldPos, ok := oldIndex[rec.ID]; ok {
				existing = oldItems[oldPos]
			}

			ent := reconcile(existing, rec, s.derive)
			if existing != nil {
				// Same identity, unchanged or updated in place.
				reused[rec.ID] = struct{}{}
			}

			batch = append(batch, ent)
		}

		s.col.CommitBatch(start, batch)

		if s.tracker.IsStale(epoch) || ctx.Err() != nil {
			aborted = true

			s.logger.Debug("reconcile pass superseded",
				slog.Int("batches_committed", i+1),
				slog.Int("batches_total", len(plan.visitOrder)),
			)

			break
		}

		// Cooperative yield after the anchor batch only: one render
		// pass gets to observe the anchor region before the less
		// time-sensitive batches run.
		if i == 0 && s.opts.AnchorDelay > 0 {
			select {
			case <-ctx.Done():
				aborted = true
			case <-time.After(s.opts.AnchorDelay):
			}

			if aborted {
				break
			}
		}
	}

	s.disposeUnused(oldItems, reused)

	if aborted {
		return RunAborted
	}

	return RunSuccess
}

// disposeUnused releases every entity from the pre-run snapshot whose
// id was never reused. Snapshot positions hold unique ids, so each
// entity is released exactly once.
func (s *Store) disposeUnused(oldItems []*Entity, reused map[string]struct{}) {
	disposed := 0

	for _, ent := range oldItems {
		if ent == nil {
			continue
		}

		if _, ok := reused[ent.ID]; ok {
			continue
		}

		ent.Release()
		disposed++
	}

	if disposed > 0 {
		s.logger.Debug("disposed superseded entities", slog.Int("count", disposed))
	}
}

func (s *Store) newVerifier() *Verifier {
	return &Verifier{
		col:        s.col,
		tracker:    s.tracker,
		prober:     s.prober,
		logger:     s.logger,
		limit:      s.opts.ProbeConcurrency,
		onProgress: s.opts.OnVerifyProgress,
	}
}

// batchPlan is the precomputed batch layout of one run. Batch b covers
// positions [absoluteStart+b*size, absoluteStart+(b+1)*size), clamped
// to the record range. absoluteStart may be negative: the anchor batch
// is centered on the anchor, not aligned to position 0.
type batchPlan struct {
	absoluteStart int
	size          int
	visitOrder    []int
}

// planBatches centers one batch on the anchor index and schedules the
// rest alternating outward from it, so the region the user is looking
// at becomes correct first regardless of total collection size.
func planBatches(total, anchorIndex, size int) batchPlan {
	if anchorIndex < 0 {
		anchorIndex = 0
	}

	if anchorIndex >= total {
		anchorIndex = total - 1
	}

	initialStart := anchorIndex - size/2
	initialBatch := ceilDiv(initialStart, size)
	absoluteStart := initialStart - size*initialBatch
	totalBatches := ceilDiv(total-absoluteStart, size)

	order := make([]int, 0, totalBatches)
	order = append(order, initialBatch)

	for offset := 1; len(order) < totalBatches; offset++ {
		if b := initialBatch + offset; b < totalBatches {
			order = append(order, b)
		}

		if b := initialBatch - offset; b >= 0 {
			order = append(order, b)
		}
	}

	return batchPlan{absoluteStart: absoluteStart, size: size, visitOrder: order}
}

// clampedRange returns the half-open position range of a batch, clamped
// to [0, total).
func (p batchPlan) clampedRange(batchIndex, total int) (start, end int) {
	start = p.absoluteStart + batchIndex*p.size
	end = start + p.size

	if start < 0 {
		start = 0
	}

	if end > total {
		end = total
	}

	return start, end
}

// ceilDiv divides rounding toward positive infinity. b must be
// positive; a may be negative.
func ceilDiv(a, b int) int {
	q, r := a/b, a%b
	if r > 0 {
		q++
	}

	return q
}
