package tasks

import (
	"context"
	"sync"

	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
)

// Runner starts invocations of one scope, each on its own goroutine.
// File-change scopes are latest-wins: a new trigger cancels the in-flight
// invocation before starting its own, without waiting for it to wind down.
type Runner struct {
	scope      *Scope
	comms      Comms
	ids        *IDs
	latestWins bool

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewRunner creates a runner bound to the given parent context. When the
// parent is cancelled (owner shutdown), in-flight invocations are too.
func NewRunner(parent context.Context, scope *Scope, comms Comms, ids *IDs, latestWins bool) *Runner {
	return &Runner{
		scope:      scope,
		comms:      comms,
		ids:        ids,
		parent:     parent,
		latestWins: latestWins,
	}
}

// Trigger starts a new invocation for the given changed paths and returns
// its id without waiting for completion.
func (r *Runner) Trigger(paths []string) string {
	r.mu.Lock()
	if r.latestWins && r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(r.parent)
	r.cancel = cancel
	inv := Invocation{ID: r.ids.Next(), Paths: paths}
	r.running.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.running.Done()
		defer cancel()
		r.comms.Events.Publish(events.ExternalEvent{
			Kind:         events.TaskStarted,
			InvocationID: inv.ID,
			Task:         r.scope.Name(),
			Paths:        paths,
		})
		err := r.scope.Run(ctx, inv, r.comms)
		evt := events.ExternalEvent{
			Kind:         events.TaskFinished,
			InvocationID: inv.ID,
			Task:         r.scope.Name(),
		}
		if err != nil && !errors.IsCancelled(err) {
			evt.Error = err.Error()
		}
		r.comms.Events.Publish(evt)
	}()
	return inv.ID
}

// Stop cancels the in-flight invocation, if any, and waits for it to wind
// down.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.running.Wait()
}
