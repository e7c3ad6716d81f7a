// Package feed is the change-notification primitive behind document subscriptions.
//
// Publishers hand values to a Hub keyed by document or channel id; every subscriber
// gets its own goroutine and bounded mailbox, so a slow callback never blocks a writer.
package feed

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscription mailbox size.
const DefaultBuffer = 64

// Hub fans published values out to subscribers of the same key.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription[T]]struct{}
	buffer int
	logger *slog.Logger
	closed bool
}

type subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewHub creates a hub. A buffer <= 0 uses DefaultBuffer.
func NewHub[T any](buffer int, logger *slog.Logger) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{
		subs:   make(map[string]map[*subscription[T]]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers fn for values published under key. Values are delivered in
// publish order on a dedicated goroutine. The returned cancel func is idempotent.
func (h *Hub[T]) Subscribe(key string, fn func(T)) (cancel func()) {
	sub := &subscription[T]{
		ch:   make(chan T, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscription[T]]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case v := <-sub.ch:
				select {
				case <-sub.done:
					return
				default:
				}
				fn(v)
			}
		}
	}()

	return func() {
		h.mu.Lock()
		if set, ok := h.subs[key]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
		sub.stop()
	}
}

// Publish delivers v to every current subscriber of key without blocking.
// A subscriber whose mailbox is full misses v.
func (h *Hub[T]) Publish(key string, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- v:
		default:
			h.logger.Warn("feed subscriber buffer full, dropping notification", "key", key)
		}
	}
}

// Count reports the number of live subscriptions for key.
func (h *Hub[T]) Count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

// Close cancels every subscription. Later Subscribe calls are no-ops.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for key, set := range h.subs {
		for sub := range set {
			sub.stop()
		}
		delete(h.subs, key)
	}
}

func (s *subscription[T]) stop() {
	s.once.Do(func() { close(s.done) })
}
