package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pulse lifecycle event types.
const (
	PulseStarted   = "pulse.started"
	PulseStopped   = "pulse.stopped"
	PulseCompleted = "pulse.completed"
	PulseError     = "pulse.error"
	PulseFatal     = "pulse.fatal"
)

// Event is an in-memory signal between daemon components.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// PulseData is the Data of every pulse.* event.
type PulseData struct {
	Pulse   string        `json:"pulse"`
	ID      uint64        `json:"id"`
	Runtime time.Duration `json:"runtime,omitempty"`
	Err     string        `json:"err,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
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
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock can never race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
