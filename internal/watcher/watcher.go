// Package watcher reindexes local file sources when their file changes on
// disk. It watches the parent directory of every file:// or bare-path source
// (editors often replace files by rename, which a file-level watch would
// lose), filters events down to registered paths, and coalesces bursts of
// writes into one reindex per source after a quiet period.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// ReindexFunc runs a reindex for one source.
type ReindexFunc func(ctx context.Context, sourceID string) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last event before a reindex
	// runs. Defaults to 2s.
	Debounce time.Duration
	// Refresh is how often the registry is re-read to pick up added or
	// removed sources. Defaults to 30s.
	Refresh time.Duration
}

// Watcher triggers reindexing of local file sources on change.
type Watcher struct {
	registry rag.SourceRegistry
	reindex  ReindexFunc
	opts     Options
	fsw      *fsnotify.Watcher

	mu sync.Mutex
	// byPath maps a cleaned absolute file path to the sources reading it.
	byPath map[string][]string
	// dirs counts watched paths per directory.
	dirs map[string]int
	// timers holds the pending debounced reindex per source.
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a Watcher. Call Run to start it.
func New(registry rag.SourceRegistry, reindex ReindexFunc, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 30 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	return &Watcher{
		registry: registry,
		reindex:  reindex,
		opts:     opts,
		fsw:      fsw,
		byPath:   make(map[string][]string),
		dirs:     make(map[string]int),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is cancelled, then stops pending reindexes, waits
// for running ones, and releases the fsnotify watcher.
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	defer w.shutdown()

	if err := w.Sync(ctx); err != nil {
		log.Warn("watcher: initial sync failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(w.opts.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Sync(ctx); err != nil {
				log.Warn("watcher: sync failed", slog.Any("error", err))
			}
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher: fsnotify error", slog.Any("error", err))
		}
	}
}

// Sync reconciles the watched directories with the registry.
func (w *Watcher) Sync(ctx context.Context) error {
	sources, err := w.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("watcher: list sources: %w", err)
	}

	byPath := make(map[string][]string)
	for _, s := range sources {
		if strings.HasPrefix(s.Location, "data:") {
			continue
		}
		p, err := ingestion.LocalPath(s.Location)
		if err != nil {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		byPath[abs] = append(byPath[abs], s.ID)
	}

	dirs := make(map[string]int)
	for p := range byPath {
		dirs[filepath.Dir(p)]++
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for d := range dirs {
		if _, ok := w.dirs[d]; ok {
			continue
		}
		if err := w.fsw.Add(d); err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", d, err))
			delete(dirs, d)
		}
	}
	for d := range w.dirs {
		if _, ok := dirs[d]; !ok {
			_ = w.fsw.Remove(d)
		}
	}
	w.byPath = byPath
	w.dirs = dirs
	return errors.Join(errs...)
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.byPath[filepath.Clean(ev.Name)] {
		w.scheduleLocked(ctx, id)
	}
}

// scheduleLocked (re)starts the debounce timer for id.
func (w *Watcher) scheduleLocked(ctx context.Context, id string) {
	if t, ok := w.timers[id]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[id] == t {
			delete(w.timers, id)
		}
		w.mu.Unlock()

		log := logging.FromContext(ctx).With(slog.String("source_id", id))
		log.Info("watcher: file changed, reindexing")
		err := w.reindex(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, rag.ErrAlreadyIndexing):
			// The running pass may have read the file before the change.
			log.Debug("watcher: source busy, rescheduling")
			w.retry(ctx, id)
		default:
			log.Warn("watcher: reindex failed", slog.Any("error", err))
		}
	})
	w.timers[id] = t
}

// retry re-arms the timer for id unless a newer change already did or the
// watcher is stopping.
func (w *Watcher) retry(ctx context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || ctx.Err() != nil {
		return
	}
	if _, pending := w.timers[id]; pending {
		return
	}
	w.scheduleLocked(ctx, id)
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for id, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
	_ = w.fsw.Close()
}
