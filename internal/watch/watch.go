// Package watch re-triggers detection when images below a data directory
// change.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Handler receives the settled batch of changed image paths (relative,
// slash separated, sorted).
type Handler func(ctx context.Context, changed []string)

// Watcher watches a data directory tree for image changes.
type Watcher struct {
	DataDir string

	// Match filters relative paths; only matching files trigger the handler.
	Match func(rel string) bool

	// Debounce is how long a path must stay quiet before it is reported.
	Debounce time.Duration

	// Ignore lists directories (absolute or relative to DataDir) that are
	// never watched, such as the cache or cleaned-image output.
	Ignore []string

	Logger *zap.Logger

	fsw     *fsnotify.Watcher
	pending map[string]time.Time
	ignore  []string
}

// New creates a Watcher. A nil match accepts every file.
func New(dataDir string, match func(string) bool, debounce time.Duration, logger *zap.Logger) *Watcher {
	if match == nil {
		match = func(string) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{DataDir: dataDir, Match: match, Debounce: debounce, Logger: logger}
}

// Run watches until ctx is cancelled, calling handle for every settled batch.
// handle runs on the watcher goroutine; events arriving meanwhile are queued
// by fsnotify and reported in the next batch.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	if handle == nil {
		return errors.New("nil handler")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w.fsw = fsw
	w.pending = make(map[string]time.Time)
	w.ignore = w.ignore[:0]
	for _, dir := range w.Ignore {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(w.DataDir, dir)
		}
		w.ignore = append(w.ignore, filepath.Clean(dir))
	}

	if err := w.addTree(w.DataDir, false); err != nil {
		return err
	}
	w.Logger.Info("watching for image changes", zap.String("dir", w.DataDir))

	tick := w.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			if batch := w.settled(time.Now()); len(batch) > 0 {
				w.Logger.Debug("changes settled", zap.Strings("paths", batch))
				handle(ctx, batch)
			}
		}
	}
}

func (w *Watcher) ignored(path string) bool {
	clean := filepath.Clean(path)
	for _, dir := range w.ignore {
		if clean == dir || strings.HasPrefix(clean, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addTree watches root and every directory below it. With enqueue set,
// matching files already present are reported; they may have been written
// before the watch was in place.
func (w *Watcher) addTree(root string, enqueue bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (w.ignored(path) || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.Logger.Warn("cannot watch directory", zap.String("dir", path), zap.Error(err))
			}
			return nil
		}
		if enqueue {
			w.enqueue(path)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.DataDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) enqueue(path string) {
	if w.ignored(path) {
		return
	}
	rel, ok := w.rel(path)
	if !ok || !w.Match(rel) {
		return
	}
	w.pending[rel] = time.Now()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignored(event.Name) && !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := w.addTree(event.Name, true); err != nil {
					w.Logger.Warn("cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
				}
			}
			return
		}
	}
	w.enqueue(event.Name)
}

// settled removes and returns the paths quiet for at least Debounce.
func (w *Watcher) settled(now time.Time) []string {
	var out []string
	for rel, at := range w.pending {
		if now.Sub(at) >= w.Debounce {
			out = append(out, rel)
			delete(w.pending, rel)
		}
	}
	sort.Strings(out)
	return out
}
