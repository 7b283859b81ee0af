// Package supervisor reconciles a running fleet of servers against a
// desired Input and routes events between watchers, servers, and the
// external event stream.
package supervisor

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
	"github.com/devloop-sh/devloop/internal/logging"
	"github.com/devloop-sh/devloop/internal/server"
)

// Outcome classifies one child's reconciliation result.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomePatched Outcome = "patched"
	OutcomeStopped Outcome = "stopped"
	OutcomeFailed  Outcome = "failed"
)

// ChildResult is the per-identity result of applying an input.
type ChildResult struct {
	Identity config.ServerIdentity
	Outcome  Outcome
	Addr     net.Addr
	Changes  config.ChangeSet
	Err      error
}

type child struct {
	identity config.ServerIdentity
	srv      *server.Server
	addr     net.Addr
}

// Supervisor holds the set of per-server actors. The children map has a
// single writer (the supervisor's Apply/Stop); snapshots are taken under the
// lock for readers.
type Supervisor struct {
	log  *zap.Logger
	sink events.Sink

	mu       sync.Mutex
	children map[string]*child
	stopped  bool
}

// New creates an empty supervisor reporting to sink.
func New(sink events.Sink) *Supervisor {
	if sink == nil {
		sink = events.Discard
	}
	return &Supervisor{
		log:      logging.With(zap.String("component", "supervisor")),
		sink:     sink,
		children: make(map[string]*child),
	}
}

// Start brings the fleet up from an initial input. An input with no servers,
// or one where every server failed to bind, is a startup failure.
func (s *Supervisor) Start(ctx context.Context, input *config.Input) ([]ChildResult, error) {
	if len(input.Servers) == 0 {
		return nil, errors.NewInputError(errors.EmptyInput, "", "input contains no servers")
	}
	results := s.Apply(ctx, input)

	s.mu.Lock()
	running := len(s.children)
	s.mu.Unlock()
	if running == 0 {
		for _, res := range results {
			if res.Err != nil {
				return results, res.Err
			}
		}
		return results, &errors.ServerError{Kind: errors.Unknown}
	}
	return results, nil
}

// Apply reconciles the running servers against input: removed identities are
// stopped first (so a renamed identity can reclaim its old port), then new
// identities are created, then surviving ones are patched. Bind failures are
// reported per child and never abort the rest.
func (s *Supervisor) Apply(ctx context.Context, input *config.Input) []ChildResult {
	desired := make(map[string]*config.ServerConfig, len(input.Servers))
	for i := range input.Servers {
		sc := &input.Servers[i]
		desired[sc.Identity().Key()] = sc
	}

	var results []ChildResult

	// stop-first
	s.mu.Lock()
	var removed []*child
	for key, c := range s.children {
		if _, keep := desired[key]; !keep {
			removed = append(removed, c)
			delete(s.children, key)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		var g errgroup.Group
		for _, c := range removed {
			g.Go(func() error { return c.srv.Stop(ctx) })
		}
		g.Wait()
		for _, c := range removed {
			results = append(results, ChildResult{Identity: c.identity, Outcome: OutcomeStopped})
		}
	}

	// additions, in input order
	for i := range input.Servers {
		sc := &input.Servers[i]
		key := sc.Identity().Key()
		s.mu.Lock()
		_, exists := s.children[key]
		s.mu.Unlock()
		if exists {
			continue
		}

		srv := server.New(*sc)
		addr, err := srv.Listen()
		if err != nil {
			s.log.Warn("server failed to start",
				zap.String("identity", sc.Identity().String()), zap.Error(err))
			results = append(results, ChildResult{Identity: sc.Identity(), Outcome: OutcomeFailed, Err: err})
			continue
		}
		s.mu.Lock()
		s.children[key] = &child{identity: sc.Identity(), srv: srv, addr: addr}
		s.mu.Unlock()
		results = append(results, ChildResult{Identity: sc.Identity(), Outcome: OutcomeCreated, Addr: addr})
	}

	// patches, in input order
	for i := range input.Servers {
		sc := &input.Servers[i]
		key := sc.Identity().Key()
		s.mu.Lock()
		c, exists := s.children[key]
		s.mu.Unlock()
		if !exists || alreadyReported(results, sc.Identity()) {
			continue
		}
		changes, err := c.srv.Patch(*sc)
		if err != nil {
			// previous routes remain in effect
			s.log.Warn("patch failed",
				zap.String("identity", sc.Identity().String()), zap.Error(err))
			results = append(results, ChildResult{Identity: sc.Identity(), Outcome: OutcomeFailed, Addr: c.addr, Err: err})
			continue
		}
		results = append(results, ChildResult{Identity: sc.Identity(), Outcome: OutcomePatched, Addr: c.addr, Changes: changes})
	}

	s.sink.Publish(events.ExternalEvent{
		Kind:     events.InputAccepted,
		Children: outcomes(results),
		Servers:  s.Servers(),
	})
	return results
}

func alreadyReported(results []ChildResult, id config.ServerIdentity) bool {
	for _, res := range results {
		if res.Identity.Key() == id.Key() &&
			(res.Outcome == OutcomeCreated || res.Outcome == OutcomeFailed) {
			return true
		}
	}
	return false
}

func outcomes(results []ChildResult) []events.ChildOutcome {
	out := make([]events.ChildOutcome, 0, len(results))
	for _, res := range results {
		co := events.ChildOutcome{
			Identity: res.Identity.String(),
			Outcome:  string(res.Outcome),
		}
		if res.Addr != nil {
			co.Addr = res.Addr.String()
		}
		if !res.Changes.Empty() {
			cs := res.Changes
			co.Changes = &cs
		}
		if res.Err != nil {
			co.Error = res.Err.Error()
		}
		out = append(out, co)
	}
	return out
}

// FilesChanged forwards a batched change to the matching server, or to every
// server when identity is nil.
func (s *Supervisor) FilesChanged(identity *config.ServerIdentity, paths []string) {
	s.mu.Lock()
	targets := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		if identity == nil || c.identity.Key() == identity.Key() {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.srv.NotifyChanged(paths)
	}
	s.sink.Publish(events.ExternalEvent{Kind: events.FileChanged, Paths: paths})
}

// Get returns the running server for identity, or nil.
func (s *Supervisor) Get(identity config.ServerIdentity) *server.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[identity.Key()]; ok {
		return c.srv
	}
	return nil
}

// Servers returns a snapshot of {identity, bound address} pairs.
func (s *Supervisor) Servers() []events.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.ServerInfo, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, events.ServerInfo{
			Identity: c.identity.String(),
			Addr:     c.addr.String(),
		})
	}
	return out
}

// Stop stops every child concurrently and waits for each acknowledgement.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.children = make(map[string]*child)
	s.mu.Unlock()

	s.sink.Publish(events.ExternalEvent{Kind: events.ShuttingDown})

	var g errgroup.Group
	for _, c := range children {
		g.Go(func() error { return c.srv.Stop(ctx) })
	}
	g.Wait()
}
