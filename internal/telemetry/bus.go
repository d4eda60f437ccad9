package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentdag/agentdag/internal/ports"
)

// Bus is the engine's ordered, synchronous event stream. Every Publish call
// appends to an in-memory buffer and fans out to subscribers of that event's
// type in registration order, blocking until each has run. A subscriber's
// error or panic is isolated: it never aborts the emitting call, and never
// reorders delivery to the subscribers after it.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]subscriber
	nextSub  int
	buffer   []Event
	dispatch sync.Mutex // serializes Publish so buffer/event ordering matches emission order
}

type subscriber struct {
	id      int
	handler ports.EventHandler
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Publish appends event to the buffer and synchronously dispatches a
// deep copy to every subscriber of event.EventType(), in subscription order.
func (b *Bus) Publish(ctx context.Context, event ports.DomainEvent) error {
	if b == nil || event == nil {
		return nil
	}

	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	if e, ok := event.(Event); ok {
		b.mu.Lock()
		b.buffer = append(b.buffer, e)
		b.mu.Unlock()
	}

	b.mu.RLock()
	handlers := append([]subscriber(nil), b.subs[event.EventType()]...)
	b.mu.RUnlock()

	for _, sub := range handlers {
		b.invoke(ctx, sub, event)
	}
	return nil
}

// invoke runs one subscriber's handler, converting a handler error or panic
// into a plugin_error event rather than letting it escape Publish.
func (b *Bus) invoke(ctx context.Context, sub subscriber, event ports.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.recordPluginError(ctx, event.EventType(), fmt.Errorf("panic: %v", r))
		}
	}()
	if err := sub.handler(ctx, event); err != nil {
		b.recordPluginError(ctx, event.EventType(), err)
	}
}

func (b *Bus) recordPluginError(ctx context.Context, sourceType string, cause error) {
	pluginErr := NewEvent(ports.EventPluginError, "", "", map[string]interface{}{
		"source_event_type": sourceType,
		"error":              cause.Error(),
	})
	b.mu.Lock()
	b.buffer = append(b.buffer, pluginErr)
	b.mu.Unlock()
	// plugin_error itself is not redelivered to subscribers: a faulty
	// subscriber must not be able to trigger recursive dispatch.
}

// Subscribe registers handler for eventType. Subscribing while a Publish
// call for that type is in flight is undefined; callers must subscribe
// before the bus starts receiving events for it.
func (b *Bus) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if b == nil || handler == nil {
		return noopSubscription{}, nil
	}
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}}, nil
}

// History returns every event published so far, oldest first.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

var _ ports.EventPublisher = (*Bus)(nil)
