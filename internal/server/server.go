// Package server implements the per-server actor: it owns a bound listener,
// the mutable route set, and the broadcast channel of browser events for one
// configured server.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
	"github.com/devloop-sh/devloop/internal/logging"
	"github.com/devloop-sh/devloop/internal/routes"
)

// State is the server lifecycle state.
type State int

const (
	Unbound State = iota
	Binding
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// stopGrace bounds how long in-flight requests may drain after Stop.
const stopGrace = 3 * time.Second

// Server serves HTTP for a single ServerConfig. The route set and compiled
// matcher are behind a reader-writer lease: request handlers are the
// readers, the Patch handler is the sole writer. Patches are serialized and
// swap the whole set atomically, so no request ever observes a mixed state.
type Server struct {
	identity config.ServerIdentity
	log      *zap.Logger
	hub      *Hub

	// routes lease
	mu       sync.RWMutex
	routeSet []config.Route
	matcher  *routes.Matcher
	manifest config.RoutesManifest
	client   config.ClientConfig

	// lifecycle; stateMu also serializes Listen/Patch/Stop
	stateMu sync.Mutex
	state   State
	ln      net.Listener
	httpSrv *http.Server
	addr    net.Addr
	done    chan struct{}
}

// New creates an unbound server from its config.
func New(cfg config.ServerConfig) *Server {
	routeSet := cfg.RouteSet()
	return &Server{
		identity: cfg.Identity(),
		log:      logging.With(zap.String("server", cfg.Identity().String())),
		hub:      NewHub(),
		routeSet: routeSet,
		matcher:  routes.Compile(routeSet),
		manifest: config.NewRoutesManifest(routeSet),
		client:   cfg.Client,
		state:    Unbound,
		done:     make(chan struct{}),
	}
}

// Identity returns the server's stable identity.
func (s *Server) Identity() config.ServerIdentity { return s.identity }

// Listen binds the configured address and starts serving. Valid only in the
// Unbound state; the server owns the listener for its entire life.
func (s *Server) Listen() (net.Addr, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != Unbound {
		return nil, &errors.ServerError{Kind: errors.Unknown,
			Err: fmt.Errorf("listen in state %s", s.state)}
	}
	s.state = Binding

	addr := s.identity.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.state = Unbound
		return nil, errors.FromListenError(addr, err)
	}

	s.ln = ln
	s.addr = ln.Addr()
	s.httpSrv = &http.Server{Handler: s.buildHandler()}
	s.state = Running

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("serve ended", zap.Error(err))
		}
	}()

	s.log.Info("listening", zap.String("addr", s.addr.String()))
	return s.addr, nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.addr
}

// Patch swaps the route set for the given config's under the write lease and
// broadcasts a routes-updated client event when anything changed. Valid only
// while Running; a patch never changes the bound address.
func (s *Server) Patch(next config.ServerConfig) (config.ChangeSet, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != Running {
		return config.ChangeSet{}, &errors.ServerError{Kind: errors.Closed,
			Err: fmt.Errorf("patch in state %s", s.state)}
	}

	nextRoutes := next.RouteSet()
	nextManifest := config.NewRoutesManifest(nextRoutes)

	s.mu.Lock()
	changeset := s.manifest.ChangesetFor(nextManifest)
	clientChanges := s.client.ChangesetFor(next.Client)
	s.routeSet = nextRoutes
	// compile under the same write lease so readers never see a matcher
	// that disagrees with the route set
	s.matcher = routes.Compile(nextRoutes)
	s.manifest = nextManifest
	s.client = next.Client
	s.mu.Unlock()

	for _, cc := range clientChanges {
		s.hub.Broadcast(events.ConfigChanged(cc))
	}
	if !changeset.Empty() {
		s.log.Info("routes updated",
			zap.Int("added", len(changeset.Added)),
			zap.Int("removed", len(changeset.Removed)),
			zap.Int("changed", len(changeset.Changed)))
		s.hub.Broadcast(events.RoutesChanged(changeset))
	}
	return changeset, nil
}

// NotifyChanged broadcasts a batched file-change event to connected clients.
func (s *Server) NotifyChanged(paths []string) {
	s.hub.Broadcast(events.FilesChanged(paths))
}

// Stop stops accepting connections, drains in-flight requests for a bounded
// grace period, then tears the server down. The returned completion is
// signalled exactly once via Done.
func (s *Server) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == Stopped || s.state == Stopping {
		s.stateMu.Unlock()
		<-s.done
		return nil
	}
	wasRunning := s.state == Running
	s.state = Stopping
	srv := s.httpSrv
	s.stateMu.Unlock()

	var err error
	if wasRunning && srv != nil {
		graceCtx, cancel := context.WithTimeout(ctx, stopGrace)
		defer cancel()
		if err = srv.Shutdown(graceCtx); err != nil {
			// drain window elapsed: cut remaining connections
			srv.Close()
		}
	}
	s.hub.Close()

	s.stateMu.Lock()
	s.state = Stopped
	s.stateMu.Unlock()
	close(s.done)

	s.log.Info("stopped")
	return err
}

// Done is closed once the server has fully stopped.
func (s *Server) Done() <-chan struct{} { return s.done }

// Manifest returns the manifest of the currently served routes.
func (s *Server) Manifest() config.RoutesManifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// leaseMatcher takes a read lease and returns the current compiled matcher.
// The matcher itself is immutable, so the lease is only held for the read.
func (s *Server) leaseMatcher() *routes.Matcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matcher
}

// currentRoutes returns a snapshot of the served route list.
func (s *Server) currentRoutes() []config.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.Route, len(s.routeSet))
	copy(out, s.routeSet)
	return out
}

// Hub exposes the client event channel (used by tests and the supervisor).
func (s *Server) Hub() *Hub { return s.hub }
