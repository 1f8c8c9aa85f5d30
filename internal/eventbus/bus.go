/**
 * @description
 * In-process publish/subscribe keyed by topic strings such as
 * "cashAccountUpdated_<id>" and "transactionChanged_<id>".
 *
 * @notes
 * - Delivery is best-effort: a subscriber whose buffer is full misses the event
 *   instead of blocking the publisher. There is no replay.
 * - A subscription ends when its context is cancelled; its channel is then closed.
 */

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("event bus is closed")

const defaultBufferSize = 32

// Event is one message delivered to subscribers of Topic.
type Event struct {
	Topic      string          `json:"topic"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Bus is the publish/subscribe contract injected into the service layer.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, topics ...string) (<-chan Event, error)
}

type subscriber struct {
	ch     chan Event
	topics map[string]struct{}
}

// MemoryBus is an in-process Bus safe for concurrent use.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
}

// NewMemoryBus creates a bus whose subscriptions buffer up to bufferSize events.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryBus{
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  bufferSize,
	}
}

// Publish fans the event out to every subscriber of its topic without blocking.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subscribers {
		if _, ok := sub.topics[event.Topic]; !ok {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers interest in the given topics until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, topics ...string) (<-chan Event, error) {
	sub := &subscriber{
		ch:     make(chan Event, b.bufferSize),
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()

	return sub.ch, nil
}

// Close ends every subscription and rejects further publishes.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *MemoryBus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}
