package events

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
)

// StdoutSink writes external events to an output stream, one per line.
// Format "json" emits the JSON encoding; anything else a human-readable line.
type StdoutSink struct {
	mu            sync.Mutex
	out           io.Writer
	format        string
	filenamesOnly bool
}

// NewStdoutSink creates a sink writing to out in the given format.
func NewStdoutSink(out io.Writer, format string) *StdoutSink {
	return &StdoutSink{out: out, format: format}
}

// FilenamesOnly trims change-event output to the bare file names in pretty
// mode.
func (s *StdoutSink) FilenamesOnly(on bool) {
	s.mu.Lock()
	s.filenamesOnly = on
	s.mu.Unlock()
}

// Publish writes one event line.
func (s *StdoutSink) Publish(e ExternalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == "json" {
		s.out.Write(e.JSON())
		io.WriteString(s.out, "\n")
		return
	}
	io.WriteString(s.out, s.pretty(e))
	io.WriteString(s.out, "\n")
}

func (s *StdoutSink) pretty(e ExternalEvent) string {
	switch e.Kind {
	case ServersChanged:
		parts := make([]string, 0, len(e.Servers))
		for _, sv := range e.Servers {
			parts = append(parts, fmt.Sprintf("%s @ http://%s", sv.Identity, sv.Addr))
		}
		return "[servers] " + strings.Join(parts, ", ")
	case InputAccepted:
		outcomes := make([]string, 0, len(e.Children))
		for _, c := range e.Children {
			outcomes = append(outcomes, fmt.Sprintf("%s: %s", c.Identity, c.Outcome))
		}
		return "[input] accepted (" + strings.Join(outcomes, ", ") + ")"
	case InputRejected:
		return "[input] rejected: " + e.Error
	case WatchingStarted:
		return "[watch] " + e.Dir
	case FileChanged:
		paths := e.Paths
		if s.filenamesOnly {
			paths = make([]string, len(e.Paths))
			for i, p := range e.Paths {
				paths[i] = filepath.Base(p)
			}
		}
		return "[change] " + strings.Join(paths, ", ")
	case TaskStarted:
		return fmt.Sprintf("[task %s] started %s", e.InvocationID, e.Task)
	case TaskOutput:
		return fmt.Sprintf("[task %s] %s", e.InvocationID, e.Line)
	case TaskFinished:
		if e.Error != "" {
			return fmt.Sprintf("[task %s] failed: %s", e.InvocationID, e.Error)
		}
		return fmt.Sprintf("[task %s] done", e.InvocationID)
	case ShuttingDown:
		return "[system] shutting down"
	default:
		return string(e.JSON())
	}
}
