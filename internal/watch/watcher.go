// Package watch reports changes under a disk-backed frontend directory.
// It never affects what is served; assets are read on every request.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// Event is a single debounced change.
type Event struct {
	Path string // relative to the watched directory, slash-separated
	Op   string // create, write, remove or rename
}

// Watcher recursively watches a directory.
type Watcher struct {
	dir      string
	fw       *fsnotify.Watcher
	logger   *slog.Logger
	onChange func(Event)

	mu   sync.Mutex
	last map[string]time.Time
}

// New starts watching dir and every directory below it. onChange may be nil.
func New(dir string, logger *slog.Logger, onChange func(Event)) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watching %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watching %q: not a directory", dir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		dir:      abs,
		fw:       fw,
		logger:   logger.With("component", "watch"),
		onChange: onChange,
		last:     make(map[string]time.Time),
	}
	if err := w.addTree(abs); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("watching %q: %w", path, err)
		}
		return nil
	})
}

// Run delivers events until ctx is canceled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := opName(ev.Op)
	if op == "" {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("watching new directory", "path", ev.Name, "error", err)
			}
		}
	}

	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return
	}
	if !w.allow(rel+"\x00"+op, time.Now()) {
		return
	}

	w.logger.Info("asset changed", "path", rel, "op", op)
	if w.onChange != nil {
		w.onChange(Event{Path: rel, Op: op})
	}
}

// allow drops repeats of the same change inside debounceInterval; editors
// often write a file several times per save.
func (w *Watcher) allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.last[key]; ok && now.Sub(last) < debounceInterval {
		return false
	}
	w.last[key] = now
	for k, t := range w.last {
		if now.Sub(t) > time.Minute {
			delete(w.last, k)
		}
	}
	return true
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
