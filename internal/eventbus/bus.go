package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal connecting the dispatch and schedule engines
// to whatever is listening (health surfaces, tests, future admin API).
// Types in use: "reminder.sent", "reminder.failed", "reminder.skipped",
// "schedule.delayed", "schedule.retimed", "schedule.cancelled",
// "trigger.skipped".
//
// Publish never blocks; a subscriber that falls behind loses events rather
// than stalling a reminder tick. Data should stay small and
// JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory fanout bus. It runs no background goroutines;
// delivery happens inline on the publisher's goroutine.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot under the read lock; the sends happen lock-free.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A full buffer drops the event. A concurrent unsubscribe may close
		// the channel between snapshot and send, hence the recover.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe to close: Publish recovers from a send on a closed channel.
			close(ch)
		})
	}
	return ch, unsub
}
