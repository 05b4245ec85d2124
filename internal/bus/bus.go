// Package bus carries channel traffic to the engine and engine notifications
// to dashboard subscribers.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultBufferSize = 256

// MessageBus is the in-process MessageRouter and EventPublisher.
type MessageBus struct {
	inbound chan InboundMessage

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates a bus with a buffered inbound queue.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBufferSize),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues a channel event. Blocks when the queue is full,
// which applies backpressure to the channel's read loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound waits for the next channel event. ok is false once ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Subscribe registers handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every subscriber synchronously.
// Handlers must not block; a panicking handler is logged and skipped.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
