package errors

import (
	"errors"
	"fmt"
	"strings"
)

// InputErrorKind classifies failures while loading or validating an input file.
type InputErrorKind string

const (
	MissingExtension     InputErrorKind = "missing_extension"
	UnsupportedExtension InputErrorKind = "unsupported_extension"
	ParseFailed          InputErrorKind = "parse_failed"
	EmptyInput           InputErrorKind = "empty_input"
	MarkdownFailed       InputErrorKind = "markdown_failed"
	Validation           InputErrorKind = "validation"
)

// InputError is a failure to produce a usable Input from a file or from
// validation rules. Parse failures carry a 1-based line/column and an excerpt
// of the offending source line.
type InputError struct {
	Kind    InputErrorKind `json:"kind"`
	Path    string         `json:"path,omitempty"`
	Message string         `json:"message"`
	Line    int            `json:"line,omitempty"`
	Column  int            `json:"column,omitempty"`
	Excerpt string         `json:"excerpt,omitempty"`
	Err     error          `json:"-"`
}

func (e *InputError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("input %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("input: %s", e.Message)
}

func (e *InputError) Unwrap() error { return e.Err }

// Pretty renders the error with the source excerpt and a caret under the
// offending column, for the human-readable output format.
func (e *InputError) Pretty() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[input error] %s", e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, "\n  --> %s", e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
	}
	if e.Excerpt != "" {
		fmt.Fprintf(&b, "\n   | %s", e.Excerpt)
		if e.Column > 0 {
			fmt.Fprintf(&b, "\n   | %s^", strings.Repeat(" ", e.Column-1))
		}
	}
	return b.String()
}

// NewInputError creates an InputError without source location.
func NewInputError(kind InputErrorKind, path, message string) *InputError {
	return &InputError{Kind: kind, Path: path, Message: message}
}

// ServerErrorKind classifies per-server lifecycle failures.
type ServerErrorKind string

const (
	AddrInUse      ServerErrorKind = "addr_in_use"
	InvalidAddress ServerErrorKind = "invalid_address"
	Unknown        ServerErrorKind = "unknown"
	Closed         ServerErrorKind = "closed"
)

// ServerError is a failure to bind, run, or stop a single server. Listen
// failures are reported per server and never abort the rest of a reconcile.
type ServerError struct {
	Kind ServerErrorKind `json:"kind"`
	Addr string          `json:"addr,omitempty"`
	Err  error           `json:"-"`
}

func (e *ServerError) Error() string {
	switch e.Kind {
	case AddrInUse:
		return fmt.Sprintf("address in use %s", e.Addr)
	case InvalidAddress:
		return fmt.Sprintf("invalid bind address: %s", e.Addr)
	case Closed:
		return "server was closed"
	default:
		if e.Err != nil {
			return fmt.Sprintf("server error: %v", e.Err)
		}
		return "could not determine the reason"
	}
}

func (e *ServerError) Unwrap() error { return e.Err }

// FromListenError maps a net.Listen failure onto a ServerError kind.
func FromListenError(addr string, err error) *ServerError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "address already in use"):
		return &ServerError{Kind: AddrInUse, Addr: addr, Err: err}
	case strings.Contains(msg, "missing port"),
		strings.Contains(msg, "invalid port"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "cannot assign requested address"):
		return &ServerError{Kind: InvalidAddress, Addr: addr, Err: err}
	default:
		return &ServerError{Kind: Unknown, Addr: addr, Err: err}
	}
}

// TaskErrorKind classifies task execution failures.
type TaskErrorKind string

const (
	ExitStatus  TaskErrorKind = "exit_status"
	SpawnFailed TaskErrorKind = "spawn_failed"
	Cancelled   TaskErrorKind = "cancelled"
)

// TaskError is a failure of a single leaf task within an invocation.
type TaskError struct {
	Kind     TaskErrorKind `json:"kind"`
	Task     string        `json:"task,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
	Err      error         `json:"-"`
}

func (e *TaskError) Error() string {
	switch e.Kind {
	case ExitStatus:
		return fmt.Sprintf("task %s exited with status %d", e.Task, e.ExitCode)
	case SpawnFailed:
		return fmt.Sprintf("task %s could not be spawned: %v", e.Task, e.Err)
	case Cancelled:
		return fmt.Sprintf("task %s was cancelled", e.Task)
	default:
		return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
	}
}

func (e *TaskError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cancelled TaskError.
func IsCancelled(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && te.Kind == Cancelled
}

// WatcherError wraps a filesystem notifier failure. These are logged and
// otherwise ignored; the watcher keeps running.
type WatcherError struct {
	Dir string `json:"dir,omitempty"`
	Err error  `json:"-"`
}

func (e *WatcherError) Error() string {
	return fmt.Sprintf("watcher %s: %v", e.Dir, e.Err)
}

func (e *WatcherError) Unwrap() error { return e.Err }
