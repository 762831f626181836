package engine

import (
	"sync"
	"time"

	"github.com/seantiz/servicedg/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// AllBlocks is the topic that receives the events of every block.
const AllBlocks = "*"

// Event types.
const (
	EventBlock        = "block"
	EventTotalViewers = "total_viewers"
	EventResetAll     = "reset_all"
)

// Event is a change notification published by the orchestrator.
type Event struct {
	Type         string       `json:"type"`
	BlockID      string       `json:"block_id,omitempty"`
	Block        *model.Block `json:"block,omitempty"`
	TotalViewers int          `json:"total_viewers"`
	At           time.Time    `json:"at"`
}

// Broker fans block events out to subscribers. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives events for the given topic (a
// block id or AllBlocks) and an unsubscribe function. If the topic is already
// closed, the returned channel is immediately closed.
func (b *Broker) Subscribe(name string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[name] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to the subscribers of the given topic and of
// AllBlocks. Events are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(name string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.publishLocked(name, ev)
	if name != AllBlocks {
		b.publishLocked(AllBlocks, ev)
	}
}

func (b *Broker) publishLocked(name string, ev Event) {
	t, ok := b.topics[name]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop the event for slow subscribers to avoid blocking ticks.
		}
	}
}

// Close signals that no more events will be published on the given topic.
func (b *Broker) Close(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked(name)
}

// CloseAll closes every topic, including ones nobody subscribed to yet.
func (b *Broker) CloseAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.closeLocked(name)
	}
	for name := range b.topics {
		b.closeLocked(name)
	}
}

func (b *Broker) closeLocked(name string) {
	t, ok := b.topics[name]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[name] = &topic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
