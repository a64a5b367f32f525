package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcherTickInterval is how often the watcher checks for pending
// filesystem events to batch rapid writes into a single rescan.
const watcherTickInterval = 100 * time.Millisecond

// Watcher monitors the library directory and invokes onChange after
// filesystem activity has settled for the debounce period. One rescan
// per burst, not one per event.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a recursive watcher over the library root.
func NewWatcher(root string, debounce time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	return &Watcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Watch starts watching the library for changes. It blocks until the
// context is cancelled. Directories are watched recursively.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watching library dir: %w", err)
	}

	w.logger.Info("library watcher started", slog.String("dir", w.root))

	var (
		dirty     bool
		lastEvent time.Time
	)

	ticker := time.NewTicker(watcherTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			dirty = true
			lastEvent = time.Now()

			// If a new directory was created, watch it recursively.
			// Use Lstat to avoid following symlinks that could point
			// outside the library.
			if event.Has(fsnotify.Create) {
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					_ = w.addRecursive(event.Name)
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// Remove watch for deleted directories. On Linux inotify
				// handles this automatically, but other platforms may leak.
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if dirty && time.Since(lastEvent) >= w.debounce {
				dirty = false

				w.logger.Debug("library changed, triggering rescan")
				w.onChange()
			}
		}
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}

		// Skip symlinked directories to prevent watching outside the
		// library. WalkDir does not follow symlinks for entries it
		// discovers, but the root argument is resolved, so we check
		// each directory entry explicitly.
		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	// Ignore hidden files/dirs except the tags sidecar, whose edits
	// change record tag sets.
	if strings.HasPrefix(base, ".") && base != tagsFileName {
		return true
	}

	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}

	return false
}
