// Package notify carries "user listing changed" signals from the write path
// to whatever renders the listing. Writers publish a Change after every
// successful mutation; readers subscribe and refresh.
package notify

import (
	"context"
	"sync"
	"time"
)

// Kind names the mutation that produced a Change.
type Kind string

const (
	KindCreated       Kind = "created"
	KindUpdated       Kind = "updated"
	KindStatusToggled Kind = "status_toggled"
	KindDeleted       Kind = "deleted"
	KindReset         Kind = "reset"
)

// Change is one listing invalidation.
type Change struct {
	Kind   Kind      `json:"kind"`
	UserID string    `json:"userId,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher sends a Change to subscribers.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Nop discards every change.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }

// Broker fans changes out to in-process subscribers. Publish never blocks:
// a subscriber whose buffer is full misses that change.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Change
	next   int
	buffer int
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[int]chan Change), buffer: buffer}
}

func (b *Broker) Publish(_ context.Context, c Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The returned cancel func removes
// it and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, b.buffer)

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
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
