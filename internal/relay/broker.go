package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 64

// Event is a single published session event.
type Event struct {
	ID      int64
	Feed    string
	Payload string
	At      time.Time
}

// Broker fans out session events to subscribers. It satisfies
// session.Publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	nextEventID atomic.Int64
	published   atomic.Int64
	dropped     atomic.Int64
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(feed, payload string) {
	evt := Event{
		ID:      b.nextEventID.Add(1),
		Feed:    feed,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns the number of published events and per-subscriber drops.
func (b *Broker) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
