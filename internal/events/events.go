// Package events defines the two event surfaces of the system: ClientEvent,
// broadcast to connected browsers over the websocket channel, and
// ExternalEvent, emitted line-delimited on the process's output stream for
// CLI consumers.
package events

import (
	"encoding/json"

	"github.com/devloop-sh/devloop/internal/config"
)

// ClientEventKind tags the ClientEvent union.
type ClientEventKind string

const (
	ClientConfig ClientEventKind = "Config"
	ClientRoutes ClientEventKind = "Routes"
	ClientChange ClientEventKind = "Change"
)

// ClientEvent is one frame on a server's browser channel.
type ClientEvent struct {
	Kind ClientEventKind `json:"kind"`

	// Config carries the changed client config
	Config *config.ClientConfig `json:"config,omitempty"`
	// Routes carries the route paths touched by a patch
	Routes []string `json:"routes,omitempty"`
	// Paths carries the changed files of a Change event
	Paths []string `json:"paths,omitempty"`
}

// ConfigChanged builds a Config client event.
func ConfigChanged(cc config.ClientConfig) ClientEvent {
	return ClientEvent{Kind: ClientConfig, Config: &cc}
}

// RoutesChanged builds a Routes client event from a changeset.
func RoutesChanged(cs config.ChangeSet) ClientEvent {
	return ClientEvent{Kind: ClientRoutes, Routes: cs.Paths()}
}

// FilesChanged builds a Change client event.
func FilesChanged(paths []string) ClientEvent {
	return ClientEvent{Kind: ClientChange, Paths: paths}
}

// ExternalKind tags the ExternalEvent union.
type ExternalKind string

const (
	ServersChanged  ExternalKind = "servers_changed"
	InputAccepted   ExternalKind = "input_accepted"
	InputRejected   ExternalKind = "input_rejected"
	WatchingStarted ExternalKind = "watching_started"
	FileChanged     ExternalKind = "files_changed"
	TaskStarted     ExternalKind = "task_started"
	TaskOutput      ExternalKind = "task_output"
	TaskFinished    ExternalKind = "task_finished"
	ShuttingDown    ExternalKind = "shutting_down"
)

// ServerInfo is one {identity, bound address} pair in a servers snapshot.
type ServerInfo struct {
	Identity string `json:"identity"`
	Addr     string `json:"addr"`
}

// ChildOutcome reports one server's reconciliation result.
type ChildOutcome struct {
	Identity string            `json:"identity"`
	Outcome  string            `json:"outcome"` // created | patched | stopped | failed
	Addr     string            `json:"addr,omitempty"`
	Changes  *config.ChangeSet `json:"changes,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ExternalEvent is one line on the process output stream. Task events carry
// the invocation id so consumers can correlate output to a trigger.
type ExternalEvent struct {
	Kind         ExternalKind   `json:"kind"`
	Servers      []ServerInfo   `json:"servers,omitempty"`
	Children     []ChildOutcome `json:"children,omitempty"`
	Paths        []string       `json:"paths,omitempty"`
	Dir          string         `json:"dir,omitempty"`
	InvocationID string         `json:"invocation_id,omitempty"`
	Task         string         `json:"task,omitempty"`
	Line         string         `json:"line,omitempty"`
	Stream       string         `json:"stream,omitempty"` // stdout | stderr
	ExitCode     *int           `json:"exit_code,omitempty"`
	Error        string         `json:"error,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// JSON renders the event as a single line.
func (e ExternalEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sink receives external events. Implementations must be safe for concurrent
// use. StdoutSink writes each event synchronously, so a slow writer slows the
// publishing caller.
type Sink interface {
	Publish(ExternalEvent)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ExternalEvent)

// Publish calls f.
func (f SinkFunc) Publish(e ExternalEvent) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(ExternalEvent) {})
