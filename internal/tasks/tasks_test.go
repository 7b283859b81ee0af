package tasks

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
)

type eventCollector struct {
	mu   sync.Mutex
	evts []events.ExternalEvent
}

func (c *eventCollector) Publish(e events.ExternalEvent) {
	c.mu.Lock()
	c.evts = append(c.evts, e)
	c.mu.Unlock()
}

func (c *eventCollector) byKind(kind events.ExternalKind) []events.ExternalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.ExternalEvent
	for _, e := range c.evts {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestShellCommandStreamsOutput(t *testing.T) {
	c := &eventCollector{}
	sh := &ShellCommand{Command: "echo one; echo two 1>&2"}
	inv := Invocation{ID: "t1"}

	if err := sh.Run(context.Background(), inv, Comms{Events: c}); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := c.byKind(events.TaskOutput)
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines, got %+v", lines)
	}
	for _, l := range lines {
		if l.InvocationID != "t1" {
			t.Errorf("line missing invocation id: %+v", l)
		}
	}
}

func TestShellCommandExitStatus(t *testing.T) {
	sh := &ShellCommand{Command: "exit 3"}
	err := sh.Run(context.Background(), Invocation{ID: "t1"}, Comms{Events: events.Discard})
	var te *errors.TaskError
	if !stderrors.As(err, &te) || te.Kind != errors.ExitStatus || te.ExitCode != 3 {
		t.Fatalf("expected exit-status error, got %v", err)
	}
}

func TestSequenceExitOnFailure(t *testing.T) {
	c := &eventCollector{}
	scope := &Scope{
		Kind:          Sequence,
		ExitOnFailure: true,
		Entries: []Task{
			&ShellCommand{Command: "false"},
			&ShellCommand{Command: "echo never"},
		},
	}
	err := scope.Run(context.Background(), Invocation{ID: "t1"}, Comms{Events: c})
	if err == nil {
		t.Fatal("expected failure")
	}
	if lines := c.byKind(events.TaskOutput); len(lines) != 0 {
		t.Errorf("remaining children should be aborted, saw %+v", lines)
	}
}

func TestSequenceContinuesWithoutExitOnFailure(t *testing.T) {
	c := &eventCollector{}
	scope := &Scope{
		Kind: Sequence,
		Entries: []Task{
			&ShellCommand{Command: "false"},
			&ShellCommand{Command: "echo survived"},
		},
	}
	err := scope.Run(context.Background(), Invocation{ID: "t1"}, Comms{Events: c})
	if err == nil {
		t.Fatal("aggregate should still report the failure")
	}
	if lines := c.byKind(events.TaskOutput); len(lines) != 1 {
		t.Errorf("second child should have run: %+v", lines)
	}
}

func TestOverlappingRunsConcurrently(t *testing.T) {
	scope := &Scope{
		Kind: Overlapping,
		Entries: []Task{
			&ShellCommand{Command: "sleep 0.2"},
			&ShellCommand{Command: "sleep 0.2"},
			&ShellCommand{Command: "sleep 0.2"},
		},
	}
	start := time.Now()
	if err := scope.Run(context.Background(), Invocation{ID: "t1"}, Comms{Events: events.Discard}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("children did not overlap: took %v", d)
	}
}

func TestNotifyServerDeliversPaths(t *testing.T) {
	var got []string
	comms := Comms{
		Events: events.Discard,
		Notify: func(paths []string) { got = paths },
	}
	n := &NotifyServer{}
	if err := n.Run(context.Background(), Invocation{ID: "t1", Paths: []string{"src/x.js"}}, comms); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 1 || got[0] != "src/x.js" {
		t.Errorf("notify paths = %v", got)
	}
}

func TestInvocationIDsAreUniqueAndShort(t *testing.T) {
	ids := &IDs{}
	seen := map[string]bool{}
	for range 100 {
		id := ids.Next()
		if id == "" || len(id) > 8 {
			t.Fatalf("unexpected id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRunnerLatestWinsCancelsInFlight(t *testing.T) {
	c := &eventCollector{}
	scope := &Scope{
		Kind:          Sequence,
		ExitOnFailure: true,
		Entries:       []Task{&ShellCommand{Command: "sleep 5"}},
	}
	r := NewRunner(context.Background(), scope, Comms{Events: c}, &IDs{}, true)

	first := r.Trigger([]string{"a"})
	time.Sleep(100 * time.Millisecond)
	second := r.Trigger([]string{"b"})
	if first == second {
		t.Fatalf("triggers must have distinct invocation ids")
	}

	// the first invocation finishes quickly because it was cancelled
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done := c.byKind(events.TaskFinished)
		if len(done) >= 1 {
			if done[0].InvocationID != first {
				t.Errorf("first finisher = %q, want %q", done[0].InvocationID, first)
			}
			r.Stop()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cancelled invocation never reported finished")
}

func TestRunnerStopCancels(t *testing.T) {
	scope := &Scope{Kind: Sequence, Entries: []Task{&ShellCommand{Command: "sleep 5"}}}
	r := NewRunner(context.Background(), scope, Comms{Events: events.Discard}, &IDs{}, true)
	r.Trigger(nil)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	r.Stop()
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("stop waited too long: %v", d)
	}
}

func TestFromConfigLowering(t *testing.T) {
	scope := FromConfig([]config.RunItem{
		{Sh: "echo a"},
		{Notify: true},
		{Overlapping: &config.RunGroup{
			ExitOnFailure: true,
			Run:           []config.RunItem{{Sh: "echo b"}, {Sh: "echo c"}},
		}},
	})
	if scope.Kind != Sequence || !scope.ExitOnFailure {
		t.Errorf("top-level scope = %+v", scope)
	}
	if len(scope.Entries) != 3 {
		t.Fatalf("entries = %d", len(scope.Entries))
	}
	if _, ok := scope.Entries[0].(*ShellCommand); !ok {
		t.Errorf("entry 0 = %T", scope.Entries[0])
	}
	if _, ok := scope.Entries[1].(*NotifyServer); !ok {
		t.Errorf("entry 1 = %T", scope.Entries[1])
	}
	nested, ok := scope.Entries[2].(*Scope)
	if !ok || nested.Kind != Overlapping || len(nested.Entries) != 2 {
		t.Errorf("entry 2 = %+v", scope.Entries[2])
	}
}
