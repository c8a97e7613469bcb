// Package watch reports changes to operator artifacts under the scan roots.
// Events are coalesced over a quiet period and handed to a handler in one
// batch, typically to rehash the registry.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/scanner"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultMaxDelay bounds how long a batch can be held back.
const DefaultMaxDelay = 5 * time.Second

// Handler receives the sorted, de-duplicated paths that changed.
type Handler func(ctx context.Context, changed []string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the quiet period after the last event before the handler
// runs.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithMaxDelay caps how long a steady stream of events can postpone the
// handler.
func WithMaxDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.maxDelay = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher follows directory roots recursively and archive roots by name.
type Watcher struct {
	fsw      *fsnotify.Watcher
	handler  Handler
	dirs     []string
	watched  map[string]bool
	archives map[string]bool
	delay    time.Duration
	maxDelay time.Duration
	logger   zerolog.Logger
}

// New starts watching roots. Roots that cannot be watched are logged and
// skipped. Call Run to deliver events, or Close to release the watcher.
func New(roots []scanner.Root, h Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		handler:  h,
		watched:  make(map[string]bool),
		archives: make(map[string]bool),
		delay:    internal.DefaultWatchDelay,
		maxDelay: DefaultMaxDelay,
		logger:   internal.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, r := range roots {
		p := filepath.Clean(r.Path)
		if r.Archive {
			// Archives are replaced rather than edited, so watch the directory.
			if err := w.fsw.Add(filepath.Dir(p)); err != nil {
				w.logger.Warn().Err(err).Str("path", p).Msg("Failed to watch archive root")
				continue
			}
			w.archives[p] = true
			continue
		}
		w.dirs = append(w.dirs, p)
		w.addTree(p)
	}
	return w, nil
}

// Watched returns the directories currently registered with the OS.
func (w *Watcher) Watched() []string {
	list := w.fsw.WatchList()
	sort.Strings(list)
	return list
}

// Close stops watching. Run closes the watcher itself when it returns.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addTree(root string) {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			w.logger.Debug().Err(err).Str("path", p).Msg("Skipping unreadable directory")
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("Failed to add directory to watcher")
			return nil
		}
		w.watched[p] = true
		return nil
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("path", root).Msg("Failed to watch root")
	}
}

// forget drops dir and every watched directory below it.
func (w *Watcher) forget(dir string) {
	prefix := dir + string(filepath.Separator)
	for p := range w.watched {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(w.watched, p)
			_ = w.fsw.Remove(p)
		}
	}
}

func (w *Watcher) underDir(p string) bool {
	for _, d := range w.dirs {
		rel, err := filepath.Rel(d, p)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// relevant reports whether ev can change the discovered operators. New
// directories below a root are added to the watch as a side effect.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	if w.archives[name] {
		return true
	}
	if !w.underDir(name) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			w.addTree(name)
			return true
		}
	}
	if (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) && w.watched[name] {
		// The directory took its artifacts with it.
		w.forget(name)
		return true
	}
	return artifact.Classify(name) != artifact.KindUnknown
}

// Run delivers batches to the handler until ctx is done. Handler errors are
// logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	var (
		first time.Time
		timer *time.Timer
		fire  <-chan time.Time
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			now := time.Now()
			if len(pending) == 0 {
				first = now
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}

			wait := w.delay
			if left := w.maxDelay - now.Sub(first); left < wait {
				wait = max(left, 0)
			}
			stop()
			timer = time.NewTimer(wait)
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			sort.Strings(changed)

			w.logger.Debug().Int("paths", len(changed)).Msg("Artifacts changed")
			if err := w.handler(ctx, changed); err != nil {
				w.logger.Error().Err(err).Msg("Change handler failed")
			}
		}
	}
}
