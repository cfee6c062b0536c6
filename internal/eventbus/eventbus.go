package eventbus

import "sync"

// Event is any value published on the bus. Lifecycle events are plain
// structs defined by the publishing package.
type Event any

// EventBus decouples the lifecycle core from notifiers and diagnostics.
// Publishing never blocks: a slow subscriber drops events rather than
// stalling a transition.
type EventBus interface {
	Publish(Event)
	Subscribe(buffer int) <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the in-process EventBus implementation.
type Bus struct {
	mu     sync.RWMutex
	subs   map[<-chan Event]chan Event
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber with the given channel buffer. A buffer
// of zero or less defaults to 16.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[sub]
	if !ok {
		return
	}
	delete(b.subs, sub)
	if !b.closed {
		close(ch)
	}
}

// Close closes every subscriber channel. Further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
