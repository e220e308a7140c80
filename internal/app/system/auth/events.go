package auth

import (
	"sync"
	"sync/atomic"
)

// EventKind says how the principal changed.
type EventKind int

const (
	SignedIn EventKind = iota + 1
	SignedOut
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	}
	return "unknown"
}

// Event is one principal change.
type Event struct {
	Kind   EventKind
	UserID string
}

// Events fans principal changes out to in-process subscribers. Delivery
// never blocks the publisher: a subscriber whose buffer is full misses the
// event and the drop is counted.
type Events struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Int64
}

func NewEvents() *Events {
	return &Events{subs: map[int]chan Event{}}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes the channel.
func (e *Events) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
			e.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (e *Events) Publish(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

func (e *Events) SignedIn(userID string)  { e.Publish(Event{Kind: SignedIn, UserID: userID}) }
func (e *Events) SignedOut(userID string) { e.Publish(Event{Kind: SignedOut, UserID: userID}) }

// Dropped reports how many deliveries were skipped because a subscriber
// was not keeping up.
func (e *Events) Dropped() int64 { return e.dropped.Load() }

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
