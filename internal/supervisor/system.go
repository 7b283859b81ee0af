package supervisor

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
	"github.com/devloop-sh/devloop/internal/logging"
	"github.com/devloop-sh/devloop/internal/tasks"
	"github.com/devloop-sh/devloop/internal/watcher"
)

// inputDebounce is the debounce window for the input file itself; editors
// tend to emit several writes per save.
const inputDebounce = 300 * time.Millisecond

// System is the running engine: the server supervisor plus the filesystem
// watchers and task runners derived from the current input. Reloading an
// input rebuilds the watcher set; an invalid reload leaves the last-known-
// good input in effect.
type System struct {
	log    *zap.Logger
	sink   events.Sink
	sup    *Supervisor
	loader *config.Loader
	ids    *tasks.IDs

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	watchers     []*serverWatch
	inputWatcher *watcher.Watcher
	inputPath    string
}

type serverWatch struct {
	w      *watcher.Watcher
	runner *tasks.Runner
}

// NewSystem creates a system reporting to sink.
func NewSystem(sink events.Sink) *System {
	if sink == nil {
		sink = events.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &System{
		log:    logging.With(zap.String("component", "system")),
		sink:   sink,
		sup:    New(sink),
		loader: config.NewLoader(),
		ids:    &tasks.IDs{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Supervisor exposes the server supervisor.
func (sys *System) Supervisor() *Supervisor { return sys.sup }

// Start brings the system up from an initial input.
func (sys *System) Start(input *config.Input) ([]ChildResult, error) {
	results, err := sys.sup.Start(sys.ctx, input)
	if err != nil {
		return results, err
	}
	sys.rebuildWatchers(input)
	return results, nil
}

// StartFromFile loads, starts, and begins watching the input file for
// changes.
func (sys *System) StartFromFile(path string) ([]ChildResult, error) {
	input, err := sys.loader.Load(path)
	if err != nil {
		return nil, err
	}
	results, err := sys.Start(input)
	if err != nil {
		return results, err
	}
	if err := sys.watchInput(path); err != nil {
		sys.log.Warn("input file watching unavailable", zap.Error(err))
	}
	return results, nil
}

// WatchOnly starts the watcher fleet from an input file without bringing up
// any servers. Notify tasks have no server to address and fail per task.
func (sys *System) WatchOnly(path string) error {
	input, err := sys.loader.Load(path)
	if err != nil {
		return err
	}
	sys.rebuildWatchers(input)
	if err := sys.watchInput(path); err != nil {
		sys.log.Warn("input file watching unavailable", zap.Error(err))
	}
	return nil
}

// Apply reconciles against a new input and rebuilds the watcher fleet.
func (sys *System) Apply(input *config.Input) []ChildResult {
	results := sys.sup.Apply(sys.ctx, input)
	sys.rebuildWatchers(input)
	return results
}

// Reload re-reads the input file and applies it. Load or validation
// failures are reported as an external event and the running input stays in
// effect.
func (sys *System) Reload() {
	sys.mu.Lock()
	path := sys.inputPath
	sys.mu.Unlock()
	if path == "" {
		return
	}
	input, err := sys.loader.Load(path)
	if err != nil {
		sys.log.Warn("reload rejected", zap.Error(err))
		evt := events.ExternalEvent{Kind: events.InputRejected, Error: err.Error()}
		var ie *errors.InputError
		if stderrors.As(err, &ie) {
			evt.Payload = map[string]any{
				"kind": string(ie.Kind), "path": ie.Path,
				"line": ie.Line, "column": ie.Column,
			}
		}
		sys.sink.Publish(evt)
		return
	}
	sys.Apply(input)
}

// watchInput watches the input file itself, filtered by filename.
func (sys *System) watchInput(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	sys.mu.Lock()
	sys.inputPath = abs
	sys.mu.Unlock()
	w, err := watcher.New(
		filepath.Dir(abs),
		watcher.Filter{Kind: watcher.FilterGlob, Glob: filepath.Base(abs)},
		inputDebounce,
		func(watcher.Batch) { sys.Reload() },
	)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	sys.mu.Lock()
	sys.inputWatcher = w
	sys.mu.Unlock()
	return nil
}

// rebuildWatchers tears down the current watcher fleet and builds the one
// the input asks for. Watchers die with their owner: a server removed by a
// reload takes its watchers with it.
func (sys *System) rebuildWatchers(input *config.Input) {
	sys.mu.Lock()
	old := sys.watchers
	sys.watchers = nil
	sys.mu.Unlock()

	for _, sw := range old {
		sw.w.Stop()
		if sw.runner != nil {
			sw.runner.Stop()
		}
	}

	var next []*serverWatch
	for i := range input.Servers {
		sc := &input.Servers[i]
		identity := sc.Identity()
		for _, wc := range sc.Watchers {
			sw, err := sys.buildWatch(identity, wc)
			if err != nil {
				sys.log.Warn("watcher not started",
					zap.String("dir", wc.Dir), zap.Error(err))
				continue
			}
			next = append(next, sw)
			sys.sink.Publish(events.ExternalEvent{Kind: events.WatchingStarted, Dir: wc.Dir})
		}
	}

	sys.mu.Lock()
	sys.watchers = append(sys.watchers, next...)
	sys.mu.Unlock()
}

// buildWatch wires one watcher config: batches either run the declared task
// scope (latest-wins) or are forwarded straight to the owning server.
func (sys *System) buildWatch(identity config.ServerIdentity, wc config.WatcherConfig) (*serverWatch, error) {
	debounce := time.Duration(wc.Debounce()) * time.Millisecond
	filter := watcher.FilterFromConfig(wc)

	var (
		runner *tasks.Runner
		sink   func(watcher.Batch)
	)
	if len(wc.Run) > 0 {
		scope := tasks.FromConfig(wc.Run)
		comms := tasks.Comms{Events: sys.sink}
		// without a running server Notify stays nil and notify tasks fail
		if sys.sup.Get(identity) != nil {
			comms.Notify = func(paths []string) { sys.sup.FilesChanged(&identity, paths) }
		}
		runner = tasks.NewRunner(sys.ctx, scope, comms, sys.ids, true)
		sink = func(b watcher.Batch) { runner.Trigger(b.Paths) }
	} else {
		sink = func(b watcher.Batch) { sys.sup.FilesChanged(&identity, b.Paths) }
	}

	w, err := watcher.New(wc.Dir, filter, debounce, sink)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	return &serverWatch{w: w, runner: runner}, nil
}

// Stop winds the whole system down: watchers first so nothing re-triggers,
// then task invocations, then the servers.
func (sys *System) Stop(ctx context.Context) {
	sys.mu.Lock()
	inputW := sys.inputWatcher
	sys.inputWatcher = nil
	watchers := sys.watchers
	sys.watchers = nil
	sys.mu.Unlock()

	if inputW != nil {
		inputW.Stop()
	}
	for _, sw := range watchers {
		sw.w.Stop()
	}
	sys.cancel()
	for _, sw := range watchers {
		if sw.runner != nil {
			sw.runner.Stop()
		}
	}
	sys.sup.Stop(ctx)
}
