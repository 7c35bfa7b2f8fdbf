// ABOUTME: In-process pub/sub bus for domain events
// ABOUTME: Synchronous typed handlers plus buffered channel streams that drop for slow readers

package events

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// streamBufferSize is the channel buffer for each stream subscriber.
const streamBufferSize = 64

// wildcard is the handler key for subscribers of every event type.
const wildcard Type = "*"

// Handler reacts to a published event. Handlers run on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus dispatches events to handlers registered by type and to channel streams.
// Producers never need to know who is listening.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]subscription
	streams  map[string]chan Event
	closed   bool
	logger   *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Type][]subscription),
		streams:  make(map[string]chan Event),
		logger:   logger.With("component", "events"),
	}
}

// On registers a handler for one event type and returns its subscription id.
func (b *Bus) On(t Type, h Handler) string {
	id := uuid.New().String()

	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], subscription{id: id, handler: h})
	b.mu.Unlock()

	return id
}

// OnAll registers a handler for every event type.
func (b *Bus) OnAll(h Handler) string {
	return b.On(wildcard, h)
}

// Off removes a handler registered with On or OnAll.
func (b *Bus) Off(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.handlers {
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish delivers the event to type handlers, then wildcard handlers, then
// streams. A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	specific := append([]subscription(nil), b.handlers[e.Type]...)
	all := append([]subscription(nil), b.handlers[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, e)
	}

	// Sends are non-blocking, so holding the read lock here keeps removeStream
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.streams {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow stream",
				"event_type", e.Type,
				"event_id", e.ID)
		}
	}
}

func (b *Bus) safeCall(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", e.Type,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	h(e)
}

// Stream returns a buffered channel receiving every event published after
// the call. The stream is closed when ctx is cancelled or the bus closes.
func (b *Bus) Stream(ctx context.Context) <-chan Event {
	id := uuid.New().String()
	ch := make(chan Event, streamBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.streams[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.removeStream(id)
	}()

	return ch
}

func (b *Bus) removeStream(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.streams[id]; ok {
		delete(b.streams, id)
		close(ch)
	}
}

// Close drops all handlers and closes every stream. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.streams {
		close(ch)
		delete(b.streams, id)
	}
	b.handlers = make(map[Type][]subscription)
}

// HandlerCount returns the number of registered handlers.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.handlers {
		n += len(subs)
	}
	return n
}
