// Package netstate tracks the connectivity signals the page reports: the
// browser's online flag, online/offline transitions and window focus.
package netstate

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mare-catalogo/backend/internal/logging"
)

// Event is a connectivity signal reported by the page.
type Event int

const (
	EventOnline Event = iota + 1
	EventOffline
	EventFocus
)

func (e Event) String() string {
	switch e {
	case EventOnline:
		return "online"
	case EventOffline:
		return "offline"
	case EventFocus:
		return "focus"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ParseEvent accepts "online", "offline" and "focus" in any case.
func ParseEvent(s string) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return EventOnline, nil
	case "offline":
		return EventOffline, nil
	case "focus":
		return EventFocus, nil
	}
	return 0, fmt.Errorf("unknown connectivity event %q", s)
}

// Tracker holds the last reported online flag and fans events out to
// subscribers. Slow subscribers miss events rather than block reporters.
type Tracker struct {
	online atomic.Bool

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int

	log *logging.Logger
}

// NewTracker creates a tracker with the given initial online flag.
func NewTracker(online bool) *Tracker {
	t := &Tracker{
		subs: make(map[int]chan Event),
		log:  logging.Named("netstate"),
	}
	t.online.Store(online)
	return t
}

// Online reports the last known online flag.
func (t *Tracker) Online() bool {
	return t.online.Load()
}

// Report records an event. Online and offline events update the flag; an
// online event is only delivered when it is a transition.
func (t *Tracker) Report(ev Event) {
	switch ev {
	case EventOnline:
		if t.online.Swap(true) {
			return
		}
		t.log.Info("Connectivity restored")
	case EventOffline:
		if !t.online.Swap(false) {
			return
		}
		t.log.Info("Connectivity lost")
	case EventFocus:
		t.log.Debug("Page regained focus")
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.log.Debug("Dropped connectivity event for slow subscriber",
				logging.Fields{"subscriber": id, "event": ev.String()})
		}
	}
}

// Subscribe returns a channel of future events and a function that detaches
// it. The detach function is safe to call more than once.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Subscribers returns the number of attached subscribers.
func (t *Tracker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
