// listener.go: Property change listeners for propbind
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"fmt"
	"reflect"
	"sync"
)

// PropertyChangeEvent describes one applied property change.
type PropertyChangeEvent struct {
	Source       interface{} // live bean
	PropertyName string      // nested property path, e.g. "retry.max"
	OldValue     interface{}
	NewValue     interface{}
}

// PropertyChangeListener is notified synchronously after a bound property changed.
type PropertyChangeListener interface {
	PropertyChange(event PropertyChangeEvent)
}

// PropertyChangeListenerFunc adapts a function to PropertyChangeListener.
// Registrations are matched by function identity on removal. Closures created by
// the same function literal share that identity; use BindingContext.OnPropertyChange
// when they must be told apart.
type PropertyChangeListenerFunc func(event PropertyChangeEvent)

// PropertyChange calls f(event).
func (f PropertyChangeListenerFunc) PropertyChange(event PropertyChangeEvent) { f(event) }

// funcListener gives a callback a pointer identity.
type funcListener struct {
	fn func(PropertyChangeEvent)
}

func (l *funcListener) PropertyChange(event PropertyChangeEvent) { l.fn(event) }

// ListenerFailurePolicy controls what happens when a listener panics.
type ListenerFailurePolicy int

const (
	// ListenerIsolate recovers the panic, logs it and carries on with the next
	// listener and the event publication.
	ListenerIsolate ListenerFailurePolicy = iota

	// ListenerAbort stops at the first failing listener, skips the event
	// publication and reports ErrCodeListenerFailed to the caller. The property
	// change itself has already been applied.
	ListenerAbort
)

func (p ListenerFailurePolicy) String() string {
	switch p {
	case ListenerIsolate:
		return "isolate"
	case ListenerAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// propertyChangeSupport is the ordered listener registry of one context.
type propertyChangeSupport struct {
	mu        sync.RWMutex
	listeners []PropertyChangeListener
}

func newPropertyChangeSupport() *propertyChangeSupport {
	return &propertyChangeSupport{}
}

func (s *propertyChangeSupport) add(l PropertyChangeListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *propertyChangeSupport) remove(l PropertyChangeListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, registered := range s.listeners {
		if sameListener(registered, l) {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// sameListener compares comparable listeners with ==, func listeners by code
// pointer. Other non-comparable listeners never match.
func sameListener(a, b PropertyChangeListener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

// snapshot copies the listener list so that dispatch can run without the lock
// and listeners may add or remove listeners while being notified.
func (s *propertyChangeSupport) snapshot() []PropertyChangeListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]PropertyChangeListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *propertyChangeSupport) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// invokeListener calls l and turns a panic into an error.
func invokeListener(l PropertyChangeListener, event PropertyChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	l.PropertyChange(event)
	return nil
}
