package server

import (
	"strconv"
	"testing"

	"github.com/devloop-sh/devloop/internal/events"
)

func TestHubDropsOldestForSlowSubscribers(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	// overflow the buffer without draining
	total := clientBuffer + 5
	for i := range total {
		h.Broadcast(events.FilesChanged([]string{pathFor(i)}))
	}

	// the queue holds the newest clientBuffer events, oldest first
	var got []string
	for range clientBuffer {
		evt := <-ch
		got = append(got, evt.Paths[0])
	}
	if got[0] != pathFor(total-clientBuffer) {
		t.Errorf("oldest retained = %q, want %q", got[0], pathFor(total-clientBuffer))
	}
	if got[len(got)-1] != pathFor(total-1) {
		t.Errorf("newest = %q", got[len(got)-1])
	}
	// no duplicates
	seen := map[string]bool{}
	for _, p := range got {
		if seen[p] {
			t.Fatalf("duplicate event %q", p)
		}
		seen[p] = true
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	// broadcasting after unsubscribe must not panic
	h.Broadcast(events.FilesChanged([]string{"a"}))
}

func TestHubCloseDropsSubscribers(t *testing.T) {
	h := NewHub()
	ch, _ := h.Subscribe()
	h.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after hub close")
	}
	h.Broadcast(events.FilesChanged([]string{"a"}))
}

func pathFor(i int) string {
	return "file-" + strconv.Itoa(i)
}
