// event_bus.go: Synchronous application event bus for propbind
//
// The bus is the process-wide channel through which property changes leave a
// BindingContext. Handlers run synchronously, in subscription order, on the
// publishing goroutine. A panicking handler is recovered and logged so that one
// faulty subscriber cannot starve the others.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// EventPublisher accepts application events for delivery.
type EventPublisher interface {
	Publish(event interface{})
}

// EventSubscriber is implemented by publishers that accept subscriptions, such as EventBus.
type EventSubscriber interface {
	Subscribe(handler EventHandler) (unsubscribe func())
}

// EventHandler receives published events.
type EventHandler func(event interface{})

// BeanPropertyChangedEvent is published once for every applied property change.
type BeanPropertyChangedEvent struct {
	Bean         interface{}
	Prefix       string // configuration prefix of the owning context
	Key          string // configuration key, e.g. "app.retry.max"
	PropertyPath string // property path, e.g. "retry.max"
	OldValue     interface{}
	NewValue     interface{}
	Property     ConfigurationProperty // the source entry that carried the value
	Timestamp    time.Time
}

// PropertyChangeApplicationEvent wraps a listener-level PropertyChangeEvent so that
// plain property change notifications reach bus subscribers as well.
type PropertyChangeApplicationEvent struct {
	PropertyChangeEvent
	Timestamp time.Time
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus is a synchronous, ordered EventPublisher.
type EventBus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64
	logger   *slog.Logger
}

// NewEventBus creates an empty bus. A nil logger selects slog.Default().
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers handler and returns a function that unsubscribes it.
// Calling the returned function more than once is harmless.
func (b *EventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *EventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every handler subscribed at the time of the call.
func (b *EventBus) Publish(event interface{}) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.deliver(s, event)
	}
}

func (b *EventBus) deliver(s subscription, event interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				"subscription", s.id,
				"panic", r)
		}
	}()
	s.handler(event)
}

// Subscribers returns the number of registered handlers.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// applicationEventAdapter forwards listener notifications into the bus.
type applicationEventAdapter struct {
	publisher EventPublisher
}

func (a *applicationEventAdapter) PropertyChange(event PropertyChangeEvent) {
	a.publisher.Publish(PropertyChangeApplicationEvent{
		PropertyChangeEvent: event,
		Timestamp:           timecache.CachedTime(),
	})
}
