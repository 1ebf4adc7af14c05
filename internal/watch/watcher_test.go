package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) <-chan Event {
	t.Helper()
	events := make(chan Event, 16)
	w, err := New(dir, nil, func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return events
}

func waitFor(t *testing.T, events <-chan Event, path string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Path == path {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	events := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("1"), 0600))
	ev := waitFor(t, events, "app.js")
	assert.Contains(t, []string{"create", "write"}, ev.Op)

	require.NoError(t, os.Remove(filepath.Join(dir, "app.js")))
	for {
		ev = waitFor(t, events, "app.js")
		if ev.Op == "remove" {
			break
		}
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	events := startWatcher(t, dir)

	sub := filepath.Join(dir, "css")
	require.NoError(t, os.Mkdir(sub, 0750))
	waitFor(t, events, "css")

	// The tree is re-added on create; allow a moment for the watch to land.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "style.css"), []byte("a"), 0600))
	waitFor(t, events, "css/style.css")
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), nil, nil)
	assert.Error(t, err)
}

func TestAllow_Debounce(t *testing.T) {
	w := &Watcher{last: make(map[string]time.Time)}
	now := time.Now()

	assert.True(t, w.allow("a\x00write", now))
	assert.False(t, w.allow("a\x00write", now.Add(10*time.Millisecond)))
	assert.True(t, w.allow("a\x00remove", now.Add(10*time.Millisecond)))
	assert.True(t, w.allow("a\x00write", now.Add(debounceInterval+time.Millisecond)))
}

func TestOpName(t *testing.T) {
	assert.Equal(t, "create", opName(fsnotify.Create))
	assert.Equal(t, "write", opName(fsnotify.Write|fsnotify.Chmod))
	assert.Equal(t, "remove", opName(fsnotify.Remove))
	assert.Equal(t, "rename", opName(fsnotify.Rename))
	assert.Equal(t, "", opName(fsnotify.Chmod))
}
