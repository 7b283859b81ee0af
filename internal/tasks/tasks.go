// Package tasks executes trees of work triggered by file-change batches or
// manual invocations: shell commands, server notifications, and external
// event emission, composed into sequential or overlapping scopes.
package tasks

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
)

// Comms carries the channels a running task may talk to: the external event
// sink and the owning server's change channel.
type Comms struct {
	Events events.Sink
	// Notify delivers a FilesChanged batch to the owning server. Nil when
	// the scope has no server to address.
	Notify func(paths []string)
}

// Invocation is one execution of a task tree. Every event emitted during the
// run carries its id.
type Invocation struct {
	ID    string
	Paths []string
}

// IDs issues invocation ids: a short base-36 encoding of a monotonic
// counter. One IDs instance lives for the life of the orchestrator.
type IDs struct {
	n atomic.Uint64
}

// Next returns the next invocation id.
func (ids *IDs) Next() string {
	return strconv.FormatUint(ids.n.Add(1), 36)
}

// Task is one runnable unit: a leaf task or a nested scope.
type Task interface {
	Name() string
	Run(ctx context.Context, inv Invocation, comms Comms) error
}

// ShellCommand spawns a sub-process and streams its output into the external
// event stream.
type ShellCommand struct {
	Command string
}

func (s *ShellCommand) Name() string { return "sh: " + s.Command }

// Run executes the command via `sh -c`. The exit status becomes the result;
// cancellation terminates the process but partial output is still forwarded.
func (s *ShellCommand) Run(ctx context.Context, inv Invocation, comms Comms) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.Command)
	// terminate, don't kill: give the child a chance to flush its output
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.TaskError{Kind: errors.SpawnFailed, Task: s.Name(), Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.TaskError{Kind: errors.SpawnFailed, Task: s.Name(), Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &errors.TaskError{Kind: errors.SpawnFailed, Task: s.Name(), Err: err}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLines(stdout, "stdout", inv, comms)
	}()
	go func() {
		defer wg.Done()
		forwardLines(stderr, "stderr", inv, comms)
	}()
	wg.Wait()

	err = cmd.Wait()
	if ctx.Err() != nil {
		return &errors.TaskError{Kind: errors.Cancelled, Task: s.Name(), Err: ctx.Err()}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return &errors.TaskError{Kind: errors.ExitStatus, Task: s.Name(), ExitCode: exitErr.ExitCode(), Err: err}
		}
		return &errors.TaskError{Kind: errors.SpawnFailed, Task: s.Name(), Err: err}
	}
	return nil
}

func forwardLines(r io.Reader, stream string, inv Invocation, comms Comms) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		comms.Events.Publish(events.ExternalEvent{
			Kind:         events.TaskOutput,
			InvocationID: inv.ID,
			Stream:       stream,
			Line:         sc.Text(),
		})
	}
}

// NotifyServer forwards the triggering batch into the owning server's change
// channel.
type NotifyServer struct{}

func (n *NotifyServer) Name() string { return "notify" }

func (n *NotifyServer) Run(ctx context.Context, inv Invocation, comms Comms) error {
	if comms.Notify == nil {
		return fmt.Errorf("notify: no server attached to this scope")
	}
	if err := ctx.Err(); err != nil {
		return &errors.TaskError{Kind: errors.Cancelled, Task: n.Name(), Err: err}
	}
	comms.Notify(inv.Paths)
	return nil
}

// PublishExternalEvent sends a payload into the top-level event sink.
type PublishExternalEvent struct {
	Payload map[string]any
}

func (p *PublishExternalEvent) Name() string { return "emit" }

func (p *PublishExternalEvent) Run(ctx context.Context, inv Invocation, comms Comms) error {
	if err := ctx.Err(); err != nil {
		return &errors.TaskError{Kind: errors.Cancelled, Task: p.Name(), Err: err}
	}
	comms.Events.Publish(events.ExternalEvent{
		Kind:         events.TaskOutput,
		InvocationID: inv.ID,
		Task:         p.Name(),
		Payload:      p.Payload,
	})
	return nil
}

// RunKind selects how a scope schedules its children.
type RunKind int

const (
	Sequence RunKind = iota
	Overlapping
)

// Scope is a tree node: an ordered list of child tasks run either left to
// right or concurrently.
type Scope struct {
	Kind          RunKind
	ExitOnFailure bool
	Entries       []Task
}

func (s *Scope) Name() string {
	if s.Kind == Overlapping {
		return "overlapping"
	}
	return "seq"
}

// Run executes the children. Sequence aborts at the first failure when
// ExitOnFailure is set, otherwise continues and reports the aggregate.
// Overlapping starts every child concurrently; ExitOnFailure cancels
// siblings on the first failure.
func (s *Scope) Run(ctx context.Context, inv Invocation, comms Comms) error {
	if s.Kind == Overlapping {
		return s.runOverlapping(ctx, inv, comms)
	}
	var errs []error
	for _, t := range s.Entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &errors.TaskError{Kind: errors.Cancelled, Task: t.Name(), Err: err})
			break
		}
		if err := t.Run(ctx, inv, comms); err != nil {
			errs = append(errs, err)
			if s.ExitOnFailure {
				break
			}
		}
	}
	return stderrors.Join(errs...)
}

func (s *Scope) runOverlapping(ctx context.Context, inv Invocation, comms Comms) error {
	if s.ExitOnFailure {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range s.Entries {
			g.Go(func() error { return t.Run(gctx, inv, comms) })
		}
		return g.Wait()
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range s.Entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Run(ctx, inv, comms); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return stderrors.Join(errs...)
}

// FromConfig lowers a watcher's declarative run list into a sequential
// scope. Declarative task lists run strictly in order to match what users
// expect from a yaml list; nesting switches modes explicitly.
func FromConfig(run []config.RunItem) *Scope {
	return &Scope{Kind: Sequence, ExitOnFailure: true, Entries: lowerItems(run)}
}

func lowerItems(items []config.RunItem) []Task {
	out := make([]Task, 0, len(items))
	for _, item := range items {
		switch {
		case item.Sh != "":
			out = append(out, &ShellCommand{Command: item.Sh})
		case item.Notify:
			out = append(out, &NotifyServer{})
		case item.Emit != nil:
			out = append(out, &PublishExternalEvent{Payload: item.Emit})
		case item.Seq != nil:
			out = append(out, &Scope{
				Kind:          Sequence,
				ExitOnFailure: item.Seq.ExitOnFailure,
				Entries:       lowerItems(item.Seq.Run),
			})
		case item.Overlapping != nil:
			out = append(out, &Scope{
				Kind:          Overlapping,
				ExitOnFailure: item.Overlapping.ExitOnFailure,
				Entries:       lowerItems(item.Overlapping.Run),
			})
		}
	}
	return out
}
