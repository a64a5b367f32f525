package library

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, debounce time.Duration) (changed chan struct{}, done chan error) {
	t.Helper()

	changed = make(chan struct{}, 16)
	done = make(chan error, 1)

	w := NewWatcher(root, debounce, func() {
		changed <- struct{}{}
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		done <- w.Watch(ctx)
	}()

	// Give the watcher a moment to register its directories before the
	// test generates events.
	time.Sleep(200 * time.Millisecond)

	return changed, done
}

func TestWatch_FiresAfterQuietPeriod(t *testing.T) {
	root := t.TempDir()

	changed, _ := startWatcher(t, root, 200*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.jpg"), []byte("x"), 0o644))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestWatch_DebouncesBurstIntoOneNotification(t *testing.T) {
	root := t.TempDir()

	changed, _ := startWatcher(t, root, 300*time.Millisecond)

	for i := 0; i < 5; i++ {
		path := filepath.Join(root, "img.jpg")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}

	select {
	case <-changed:
		t.Fatal("burst produced more than one notification")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatch_IgnoresHiddenAndTempFiles(t *testing.T) {
	root := t.TempDir()

	changed, _ := startWatcher(t, root, 150*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "edit.swp"), []byte("x"), 0o644))

	select {
	case <-changed:
		t.Fatal("ignored files should not trigger a notification")
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatch_SeesNewSubdirectories(t *testing.T) {
	root := t.TempDir()

	changed, _ := startWatcher(t, root, 150*time.Millisecond)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Drain the notification for the directory creation itself.
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a notification for the new directory")
	}

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.jpg"), []byte("x"), 0o644))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a notification for a file in the new directory")
	}
}

func TestWatch_StopsOnContextCancel(t *testing.T) {
	root := t.TempDir()

	w := NewWatcher(root, 100*time.Millisecond, func() {}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- w.Watch(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
