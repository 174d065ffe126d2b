// Package eventbus fans scheduler lifecycle events out to in-process
// listeners: the audit recorder and the dashboard's live stats both
// subscribe to the events the dispatchers and scanners publish.
package eventbus

import (
	"sync"
	"time"
)

// Event is one scheduler lifecycle notification. Data should be small and
// JSON-serializable; the audit recorder persists it verbatim.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events best-effort. Publish never blocks: a subscriber
// that falls behind its buffer loses events rather than stalling a
// dispatcher mid-slice.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines; delivery happens
// on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[int]chan Event{}}
}

type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends stay under the lock: they are non-blocking, and closing a
	// channel in unsubscribe takes the same lock, so Publish can never
	// race a close.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
