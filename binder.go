// binder.go: Binding pass over registered contexts and property sources
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"context"
	"reflect"
	"sync"

	"github.com/agilira/go-errors"
)

// BindReport summarizes one binding pass.
type BindReport struct {
	Contexts int // contexts visited
	Keys     int // keys for which some source had a value
	Changed  int // keys whose property value actually changed
}

// Binder feeds values from property sources into binding contexts. Sources are
// consulted in the order they were added; the first source holding a key wins.
// Passes are serialized.
type Binder struct {
	mu       sync.Mutex // guards sources and contexts
	bindMu   sync.Mutex // serializes Bind and Refresh
	sources  []PropertySource
	contexts []*BindingContext
}

// NewBinder creates a binder over sources, highest precedence first.
func NewBinder(sources ...PropertySource) *Binder {
	b := &Binder{}
	for _, s := range sources {
		b.AddSource(s)
	}
	return b
}

// AddSource appends a source with the lowest precedence so far.
func (b *Binder) AddSource(source PropertySource) {
	if source == nil {
		return
	}
	b.mu.Lock()
	b.sources = append(b.sources, source)
	b.mu.Unlock()
}

// Register adds an initialized context to the binding pass.
func (b *Binder) Register(c *BindingContext) error {
	if c == nil || !c.IsInitialized() {
		return errors.New(ErrCodeNotInitialized, "only initialized binding contexts can be registered")
	}
	b.mu.Lock()
	b.contexts = append(b.contexts, c)
	b.mu.Unlock()
	return nil
}

// Sources returns the sources in precedence order.
func (b *Binder) Sources() []PropertySource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PropertySource(nil), b.sources...)
}

// Lookup returns the winning value for key across all sources.
func (b *Binder) Lookup(name ConfigurationPropertyName) (ConfigurationProperty, bool) {
	return lookupIn(b.Sources(), name)
}

// Bind runs one binding pass. Keys are visited in lexical order per context;
// keys bound to nested structs are skipped since their leaves are bound
// individually. The pass stops at the first failing key and returns its error,
// which carries the key in its context.
func (b *Binder) Bind(ctx context.Context) (BindReport, error) {
	b.bindMu.Lock()
	defer b.bindMu.Unlock()

	b.mu.Lock()
	sources := append([]PropertySource(nil), b.sources...)
	contexts := append([]*BindingContext(nil), b.contexts...)
	b.mu.Unlock()

	var report BindReport
	for _, bc := range contexts {
		report.Contexts++
		for _, key := range bc.Keys() {
			select {
			case <-ctx.Done():
				return report, errors.Wrap(ctx.Err(), ErrCodeBindCanceled, "binding pass canceled").
					WithContext("key", key)
			default:
			}

			if t, _ := bc.PropertyType(key); isCandidateType(t) {
				continue
			}

			name, err := ParsePropertyName(key)
			if err != nil {
				return report, err
			}
			property, found := lookupIn(sources, name)
			if !found {
				continue
			}
			report.Keys++

			changed, err := bc.setProperty(property, property.Value)
			if changed {
				report.Changed++
			}
			if err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// Refresh reloads every Reloadable source and runs a binding pass. A source
// that fails to reload keeps its previous content and fails the refresh.
func (b *Binder) Refresh(ctx context.Context) (BindReport, error) {
	for _, s := range b.Sources() {
		r, ok := s.(Reloadable)
		if !ok {
			continue
		}
		if err := r.Reload(); err != nil {
			return BindReport{}, errors.Wrap(err, ErrCodeSourceFailed, "failed to reload property source").
				WithContext("source", s.Name())
		}
	}
	return b.Bind(ctx)
}

// WatchFile creates a watcher that refreshes the binder whenever source's file
// changes. Refresh failures go to cfg.ErrorHandler and are recorded in the
// audit trail. When auditing is enabled, property changes published by the
// registered contexts' event buses are recorded as well. The watcher is
// returned started.
func (b *Binder) WatchFile(source *FileSource, cfg Config) (*Watcher, error) {
	if source == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "file source cannot be nil")
	}
	watcher, err := NewWatcher(cfg)
	if err != nil {
		return nil, err
	}

	err = watcher.Watch(source.Path(), func(event ChangeEvent) {
		if event.IsDelete {
			return
		}
		report, err := b.Refresh(context.Background())
		if err != nil {
			watcher.auditLogger.LogSecurityEvent(AuditEventReloadFailed, map[string]interface{}{
				"path":  event.Path,
				"error": err.Error(),
			})
			watcher.handleError(err, event.Path)
			return
		}
		watcher.logger.Info("configuration reloaded",
			"path", event.Path,
			"keys", report.Keys,
			"changed", report.Changed)
	})
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	b.auditChanges(watcher)

	if err := watcher.Start(); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// auditChanges subscribes the watcher's audit trail to the event publishers of the
// contexts registered so far. The subscriptions end when the watcher is closed.
func (b *Binder) auditChanges(watcher *Watcher) {
	if !watcher.auditLogger.Enabled() {
		return
	}
	b.mu.Lock()
	contexts := append([]*BindingContext(nil), b.contexts...)
	b.mu.Unlock()

	var subscribed []EventSubscriber
	for _, bc := range contexts {
		subscriber, ok := bc.publisher.(EventSubscriber)
		if !ok || containsSubscriber(subscribed, subscriber) {
			continue
		}
		subscribed = append(subscribed, subscriber)
		watcher.onClose(subscriber.Subscribe(watcher.auditLogger.Handler()))
	}
}

func containsSubscriber(list []EventSubscriber, s EventSubscriber) bool {
	if !reflect.TypeOf(s).Comparable() {
		return false
	}
	for _, existing := range list {
		if reflect.TypeOf(existing) == reflect.TypeOf(s) && existing == s {
			return true
		}
	}
	return false
}

func lookupIn(sources []PropertySource, name ConfigurationPropertyName) (ConfigurationProperty, bool) {
	for _, s := range sources {
		if p, ok := s.Lookup(name); ok {
			return p, true
		}
	}
	return ConfigurationProperty{}, false
}
