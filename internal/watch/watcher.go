// Package watch watches an inbox directory for new statement files and hands
// them to a handler in debounced batches.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Handler processes one batch of new files. An error is logged and the batch
// is not retried until one of its files changes again.
type Handler func(ctx context.Context, paths []string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher's logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the directory must be quiet before a batch is
// flushed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithPatterns sets the base-name glob patterns of files to pick up.
func WithPatterns(patterns ...string) Option {
	return func(w *Watcher) { w.patterns = patterns }
}

// WithInitialScan queues the matching files already present at start.
func WithInitialScan() Option {
	return func(w *Watcher) { w.initialScan = true }
}

// Watcher batches new files of one directory.
type Watcher struct {
	dir         string
	handler     Handler
	logger      *log.Logger
	debounce    time.Duration
	patterns    []string
	initialScan bool

	// handled maps a path to the size and modification time it was last
	// handed over with, so a file is only re-sent when it changed.
	handled map[string]fileStamp
	pending map[string]struct{}
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// New creates a watcher for dir.
//
// Parameters:
//   - dir: Directory to watch (not recursive)
//   - handler: Called with each batch of new or changed files
//   - opts: Logger, debounce, patterns and initial scan options
//
// Returns:
//   - *Watcher: The watcher
//   - error: dir is not a directory, or a pattern is malformed
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		dir:      dir,
		handler:  handler,
		logger:   log.Default(),
		debounce: 2 * time.Second,
		patterns: []string{"*"},
		handled:  make(map[string]fileStamp),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	for _, p := range w.patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid watch pattern %q: %w", p, err)
		}
	}
	return w, nil
}

// Matches reports whether a base name is picked up by the watcher. Hidden
// files and editor or download temporaries are always skipped.
func (w *Watcher) Matches(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	for _, suffix := range []string{".part", ".crdownload", ".download", ".tmp"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			return false
		}
	}
	lower := strings.ToLower(name)
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}
	return false
}

// Run watches until ctx is cancelled. Batches are handled on the calling
// goroutine, so events arriving during a slow upload are queued for the
// next batch.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for statements", "dir", w.dir, "patterns", w.patterns)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	if w.initialScan {
		if err := w.scan(); err != nil {
			return err
		}
		if len(w.pending) > 0 {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.observe(ev) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// observe records one event and reports whether the debounce timer should
// restart.
func (w *Watcher) observe(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		delete(w.handled, ev.Name)
		return false
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !w.Matches(name) {
			return false
		}
		w.logger.Debug("statement activity", "file", name, "op", ev.Op.String())
		w.pending[ev.Name] = struct{}{}
		return true
	}
	return false
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && w.Matches(e.Name()) {
			w.pending[filepath.Join(w.dir, e.Name())] = struct{}{}
		}
	}
	return nil
}

// flush hands the settled pending files to the handler.
func (w *Watcher) flush(ctx context.Context) {
	var batch []string
	stamps := make(map[string]fileStamp)
	for p := range w.pending {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := w.handled[p]; ok && prev == stamp {
			continue
		}
		stamps[p] = stamp
		batch = append(batch, p)
	}
	w.pending = make(map[string]struct{})
	if len(batch) == 0 {
		return
	}
	sort.Strings(batch)

	w.logger.Debug("flushing batch", "files", len(batch))
	if err := w.handler(ctx, batch); err != nil {
		w.logger.Error("batch failed", "files", len(batch), "err", err)
	}
	for p, s := range stamps {
		w.handled[p] = s
	}
}
