// Package watcher turns raw filesystem notifications into filtered,
// debounced batches of changed paths.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/logging"
)

// DefaultDebounce is the debounce window applied when a watcher spec names
// none.
const DefaultDebounce = 50 * time.Millisecond

// FilterKind selects how raw paths are filtered.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterExtension
	FilterGlob
)

// Filter decides which changed paths enter a batch.
type Filter struct {
	Kind FilterKind
	Ext  string
	Glob string
}

// FilterFromConfig lowers a watcher config into a Filter.
func FilterFromConfig(w config.WatcherConfig) Filter {
	switch {
	case w.Ext != "":
		return Filter{Kind: FilterExtension, Ext: strings.TrimPrefix(w.Ext, ".")}
	case w.Glob != "":
		return Filter{Kind: FilterGlob, Glob: w.Glob}
	default:
		return Filter{Kind: FilterNone}
	}
}

// PathDescription is a changed path in both absolute and root-relative form.
type PathDescription struct {
	Absolute string
	Relative string // empty when the path is outside the root
}

// Accept applies the filter. Extensions compare only the final component;
// globs match against the relative path when present, the absolute path
// otherwise.
func (f Filter) Accept(pd PathDescription) bool {
	switch f.Kind {
	case FilterExtension:
		ext := strings.TrimPrefix(filepath.Ext(pd.Absolute), ".")
		return ext == f.Ext
	case FilterGlob:
		target := pd.Relative
		if target == "" {
			target = pd.Absolute
		}
		ok, err := doublestar.Match(f.Glob, filepath.ToSlash(target))
		return err == nil && ok
	default:
		return true
	}
}

// Batch is one debounced set of accepted paths for a watched root.
type Batch struct {
	Dir   string
	Paths []string
}

// Watcher owns one watched root. Raw notifications are filtered, collected
// into a pending set, and drained as a single batch when the debounce timer
// expires. The pending set is owned solely by the watcher; the sink runs on
// the watcher's goroutine timer and must not block for long.
type Watcher struct {
	dir      string
	filter   Filter
	debounce time.Duration
	sink     func(Batch)
	log      *zap.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool

	done chan struct{}
}

// New creates a watcher for dir. The sink receives each drained batch.
func New(dir string, filter Filter, debounce time.Duration, sink func(Batch)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		filter:   filter,
		debounce: debounce,
		sink:     sink,
		log:      logging.With(zap.String("watcher", dir)),
		fsw:      fsw,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the root (and its subdirectories) and begins delivering
// batches. A missing root is retried in the background so that recreating
// it re-starts events.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.dir); err != nil {
		w.log.Warn("watch root unavailable, retrying in background", zap.Error(err))
		go w.retryAdd()
	}
	go w.loop()
	return nil
}

// retryAdd re-attempts registration of the root with exponential backoff,
// giving up only when the watcher stops.
func (w *Watcher) retryAdd() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0
	ticker := backoff.NewTicker(policy)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.addRecursive(w.dir); err == nil {
				w.log.Debug("watch root registered")
				return
			}
		}
	}
}

// addRecursive registers dir and every directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// loop consumes raw notifications until Stop.
func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// observability only; the watcher keeps running
			w.log.Warn("notifier error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// new directories join the watch so nested changes keep flowing
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.Debug("could not watch new directory", zap.Error(err))
			}
			return
		}
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return
	}

	pd := w.describe(ev.Name)
	if !w.filter.Accept(pd) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending[filepath.Clean(ev.Name)] = struct{}{}
	// re-arm on every accepted event so a burst drains as one batch
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.drain)
}

// describe computes the absolute and root-relative forms of a raw path.
func (w *Watcher) describe(name string) PathDescription {
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = name
	}
	pd := PathDescription{Absolute: abs}
	rootAbs, err := filepath.Abs(w.dir)
	if err == nil {
		if rel, err := filepath.Rel(rootAbs, abs); err == nil && !strings.HasPrefix(rel, "..") {
			pd.Relative = rel
		}
	}
	return pd
}

// drain emits the pending set as one batch.
func (w *Watcher) drain() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	w.sink(Batch{Dir: w.dir, Paths: paths})
}

// Stop terminates watching. Any in-flight pending batch is discarded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	w.fsw.Close()
}
