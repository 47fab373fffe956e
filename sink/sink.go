// Package sink holds CodeSink implementations. Every OnCodeRead here
// returns without blocking; the scheduler calls it under its lock.
package sink

import (
	"sync"
	"time"

	iface "QrScanServer/interface"

	"github.com/google/uuid"
)

// Event is one code read, as recorded and published.
type Event struct {
	ID      string    `json:"id"`
	Payload string    `json:"payload"`
	ReadAt  time.Time `json:"readAt"`
}

func NewEvent(payload string) Event {
	return Event{ID: uuid.NewString(), Payload: payload, ReadAt: time.Now().UTC()}
}

// Fanout forwards each payload to every sink in order.
type Fanout []iface.CodeSink

func (f Fanout) OnCodeRead(payload string) {
	for _, s := range f {
		s.OnCodeRead(payload)
	}
}

// Recent keeps the last N code reads.
type Recent struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 1
	}
	return &Recent{events: make([]Event, capacity)}
}

func (r *Recent) OnCodeRead(payload string) {
	r.Add(NewEvent(payload))
}

func (r *Recent) Add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = ev
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the retained events, oldest first.
func (r *Recent) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.events[:r.next]...)
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}
