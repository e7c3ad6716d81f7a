package signaling

import (
	"context"
	"sync"
)

// Subscriber opens filtered message subscriptions. *Relay implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID, selfID string, onMessage func(Message)) (func(), error)
}

// Handler processes one delivered message.
type Handler func(Message)

// Dispatcher routes a participant's incoming messages to handlers by type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[MessageType]Handler
	cancel   func()
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[MessageType]Handler)}
}

// Handle registers h for messages of type t, replacing any previous handler.
func (d *Dispatcher) Handle(t MessageType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Len reports the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Listen subscribes to the session and starts dispatching. Calling it again replaces
// the previous subscription.
func (d *Dispatcher) Listen(ctx context.Context, sub Subscriber, sessionID, selfID string) error {
	cancel, err := sub.Subscribe(ctx, sessionID, selfID, d.Dispatch)
	if err != nil {
		return err
	}
	d.mu.Lock()
	prev := d.cancel
	d.cancel = cancel
	d.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Dispatch hands m to the handler registered for its type, if any.
func (d *Dispatcher) Dispatch(m Message) {
	d.mu.RLock()
	h := d.handlers[m.Type]
	d.mu.RUnlock()
	if h != nil {
		h(m)
	}
}

// Close unsubscribes and clears every handler.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.handlers = make(map[MessageType]Handler)
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
