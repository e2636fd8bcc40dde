// Package broker provides the in-memory implementation used in
// single-process mode.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// subscriber is one open subscription on a topic.
type subscriber struct {
	ch     chan Message
	ctx    context.Context
	cancel context.CancelFunc
}

// InMemoryBroker is a channel-backed Broker for single-process runs.
// Every subscriber receives every message published to its topic.
type InMemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	closed      bool

	// offsets has its own lock so concurrent publishers under mu.RLock
	// can still assign offsets.
	offsetMu sync.Mutex
	offsets  map[string]int64
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subscribers: make(map[string][]*subscriber),
		offsets:     make(map[string]int64),
	}
}

// Publish delivers a message to all current subscribers of the topic.
// Delivery happens under the read lock so a subscriber channel can never
// be closed mid-send.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}

	b.offsetMu.Lock()
	offset := b.offsets[topic]
	b.offsets[topic] = offset + 1
	b.offsetMu.Unlock()

	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Offset:    offset,
		Timestamp: time.Now().UnixMilli(),
	}

	for _, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- msg:
		case <-sub.ctx.Done():
			// Subscriber went away; skip it.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a consumer for the topic. The returned channel is
// closed when the subscription context is cancelled or the broker closes.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		ch:     make(chan Message, 100),
		ctx:    subCtx,
		cancel: cancel,
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	go func() {
		<-subCtx.Done()
		b.removeSubscriber(topic, sub)
	}()

	return sub.ch, nil
}

// removeSubscriber detaches and closes a subscription under the write
// lock, after any in-flight Publish has finished with it.
func (b *InMemoryBroker) removeSubscriber(topic string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub == target {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close shuts down the broker and closes all subscriber channels.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subscribers {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.cancel()
	}
	return nil
}

var _ Broker = (*InMemoryBroker)(nil)
