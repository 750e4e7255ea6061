// Package watch reports edits to a fixed set of files, debounced so that an
// editor's burst of writes produces one notification.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches individual files. Their parent directories are watched so
// that files replaced by rename (atomic saves) or created later are seen.
type Watcher struct {
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]bool
}

// New creates a watcher for files.
func New(files []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		files:    map[string]bool{},
		dirs:     map[string]bool{},
	}
	if err := w.Set(files); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Set replaces the watched file set.
func (w *Watcher) Set(files []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	nextFiles := map[string]bool{}
	nextDirs := map[string]bool{}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		nextFiles[abs] = true
		nextDirs[filepath.Dir(abs)] = true
	}

	for dir := range nextDirs {
		if w.dirs[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	for dir := range w.dirs {
		if !nextDirs[dir] {
			_ = w.fsw.Remove(dir)
		}
	}

	w.files = nextFiles
	w.dirs = nextDirs
	return nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) matches(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[abs]
}

// Run delivers one call of onChange per burst of edits, with the files that
// changed during the burst, until ctx is cancelled. onChange runs on the Run
// goroutine; edits arriving meanwhile are gathered into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func([]string)) error {
	defer w.fsw.Close()

	pending := map[string]bool{}
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if evt.Op == fsnotify.Chmod || !w.matches(evt.Name) {
				continue
			}
			w.logger.Debug("watched file changed", "file", evt.Name, "op", evt.Op.String())
			pending[filepath.Clean(evt.Name)] = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for f := range pending {
				changed = append(changed, f)
			}
			sort.Strings(changed)
			pending = map[string]bool{}
			onChange(changed)
		}
	}
}
