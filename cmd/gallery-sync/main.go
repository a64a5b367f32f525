package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pianissi/gallery-sync/internal/config"
	"github.com/pianissi/gallery-sync/internal/gallery"
	"github.com/pianissi/gallery-sync/internal/library"
	"github.com/pianissi/gallery-sync/internal/logging"
	"github.com/pianissi/gallery-sync/internal/state"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("gallery-sync starting",
		slog.String("version", Version),
		slog.String("library", cfg.LibraryDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	lib, err := library.New(cfg.LibraryDir, appState, logger)
	if err != nil {
		return err
	}

	estimator := gallery.NewEstimator()

	avgs, err := appState.AllFetchTimes()
	if err != nil {
		logger.Warn("failed to load fetch time averages", slog.String("error", err.Error()))
	} else {
		estimator.Restore(avgs)
	}

	store := gallery.NewStore(lib, library.StatProber{}, lib.DisplayPath, estimator, logger, gallery.Options{
		BatchSize:        cfg.BatchSize,
		ProbeConcurrency: cfg.ProbeConcurrency,
		AnchorDelay:      cfg.AnchorDelay,
	})

	defaultOrder := gallery.Order{By: gallery.OrderByName, Natural: true}

	// Buffered so the watcher callback never blocks the event loop when
	// a refresh is already pending.
	refresh := make(chan struct{}, 1)

	watcher := library.NewWatcher(cfg.LibraryDir, cfg.RescanDebounce, func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Watch(gctx)
	})

	g.Go(func() error {
		if err := syncOnce(gctx, store, defaultOrder, logger); err != nil {
			return err
		}

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()

			case <-refresh:
				if err := syncOnce(gctx, store, defaultOrder, logger); err != nil {
					logger.Warn("rescan failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	err = g.Wait()

	if saveErr := appState.SaveFetchTimes(estimator.Snapshot()); saveErr != nil {
		logger.Warn("failed to save fetch time averages", slog.String("error", saveErr.Error()))
	}

	if err != nil && ctx.Err() != nil {
		// Normal shutdown via signal.
		logger.Info("gallery-sync stopped")
		return nil
	}

	return err
}

// syncOnce runs one full fetch and reports the outcome.
func syncOnce(ctx context.Context, store *gallery.Store, order gallery.Order, logger *slog.Logger) error {
	shape := gallery.Shape{View: "all"}

	logger.Info("syncing library",
		slog.Duration("estimate", store.Estimate(shape)),
	)

	started := time.Now()

	result, err := store.Fetch(ctx, order, 0)
	if err != nil {
		return fmt.Errorf("fetching library: %w", err)
	}

	total, loaded, broken := store.Collection().Counts()
	logger.Info("sync finished",
		slog.String("result", result.String()),
		slog.Int("total", total),
		slog.Int("loaded", loaded),
		slog.Int("broken", broken),
		slog.Duration("took", time.Since(started)),
	)

	return nil
}
