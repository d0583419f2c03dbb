package stream

import (
	"sync"
	"sync/atomic"
)

// Subscription is one receiver attached to a Hub. Read from C until it
// closes; Unsubscribe when done.
type Subscription[T any] struct {
	C chan T
}

// Hub fans values out to a set of subscribers. Broadcast never blocks: a
// subscriber whose channel is full just misses the value, and the miss is
// counted. Slow consumers lose data instead of stalling the producer.
type Hub[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	dropped atomic.Uint64
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe attaches a receiver with the given channel buffer.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	sub := &Subscription[T]{C: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call once per
// subscription.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

// Broadcast delivers value to every subscriber that has buffer room.
func (h *Hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.C <- value:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped on full buffers.
func (h *Hub[T]) Dropped() uint64 { return h.dropped.Load() }
