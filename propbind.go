// propbind: Configuration property binding with change notification
//
// A BindingContext ties one configuration prefix (e.g. "app.service") to one live
// struct instance. At construction it walks the bean type and records which dashed
// configuration key reaches which nested property path; afterwards every update
// arrives as (key, value), is converted to the declared property type, compared with
// the current value and, only when it differs, written to the bean and announced to
// listeners and to the event bus.
//
// Example Usage:
//
//	type Service struct {
//	    Host  string
//	    Port  int
//	    Retry struct{ Max int }
//	}
//
//	svc := &Service{Port: 8080}
//	bc, _ := propbind.NewBindingContext(Service{}, "app.service")
//	_ = bc.Initialize(svc)
//	_ = bc.SetPropertyValue("app.service.retry.max", "5") // svc.Retry.Max == 5
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	goerrors "errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Error codes for propbind operations
const (
	ErrCodeInvalidBeanType      = "PROPBIND_INVALID_BEAN_TYPE"
	ErrCodeInvalidPrefix        = "PROPBIND_INVALID_PREFIX"
	ErrCodeInvalidPropertyName  = "PROPBIND_INVALID_PROPERTY_NAME"
	ErrCodeInvalidPropertyPath  = "PROPBIND_INVALID_PROPERTY_PATH"
	ErrCodeCyclicBeanGraph      = "PROPBIND_CYCLIC_BEAN_GRAPH"
	ErrCodeNotInitialized       = "PROPBIND_NOT_INITIALIZED"
	ErrCodeAlreadyInitialized   = "PROPBIND_ALREADY_INITIALIZED"
	ErrCodeBeanTypeMismatch     = "PROPBIND_BEAN_TYPE_MISMATCH"
	ErrCodeKeyNotBound          = "PROPBIND_KEY_NOT_BOUND"
	ErrCodeConversionFailed     = "PROPBIND_CONVERSION_FAILED"
	ErrCodeListenerFailed       = "PROPBIND_LISTENER_FAILED"
	ErrCodeSourceFailed         = "PROPBIND_SOURCE_FAILED"
	ErrCodeUnsupportedFormat    = "PROPBIND_UNSUPPORTED_FORMAT"
	ErrCodeBindCanceled         = "PROPBIND_BIND_CANCELED"
	ErrCodeInvalidConfig        = "PROPBIND_INVALID_CONFIG"
	ErrCodeFileNotFound         = "PROPBIND_FILE_NOT_FOUND"
	ErrCodeWatcherStopped       = "PROPBIND_WATCHER_STOPPED"
	ErrCodeWatcherBusy          = "PROPBIND_WATCHER_BUSY"
	ErrCodeInvalidPollInterval  = "PROPBIND_INVALID_POLL_INTERVAL"
	ErrCodeInvalidCacheTTL      = "PROPBIND_INVALID_CACHE_TTL"
	ErrCodeInvalidMaxWatched    = "PROPBIND_INVALID_MAX_WATCHED_FILES"
	ErrCodePollIntervalTooSmall = "PROPBIND_POLL_INTERVAL_TOO_SMALL"
	ErrCodeMaxFilesTooLarge     = "PROPBIND_MAX_FILES_TOO_LARGE"
	ErrCodeInvalidAuditConfig   = "PROPBIND_INVALID_AUDIT_CONFIG"
	ErrCodeInvalidBufferSize    = "PROPBIND_INVALID_BUFFER_SIZE"
	ErrCodeInvalidFlushInterval = "PROPBIND_INVALID_FLUSH_INTERVAL"
	ErrCodeInvalidOutputFile    = "PROPBIND_INVALID_OUTPUT_FILE"
	ErrCodeAuditBackend         = "PROPBIND_AUDIT_BACKEND"
)

// ErrorCode returns the propbind error code carried by err, or "" when err is nil
// or was not produced by this package.
func ErrorCode(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}

// BindingContext binds the configuration keys under one prefix to the nested
// properties of one live bean. It is safe for concurrent use: updates to the
// same context are serialized and notifications run on the calling goroutine
// after the update has been applied.
type BindingContext struct {
	prefix   string
	beanType reflect.Type // struct type, never a pointer

	bindings map[string]string               // configuration key -> property path
	chains   map[string][]PropertyDescriptor // configuration key -> resolved path

	reference reflect.Value // *beanType, exclusively owned
	bean      reflect.Value // *beanType, supplied by Initialize

	initialized atomic.Bool
	mu          sync.Mutex // serializes read-compare-write on the live bean

	support    *propertyChangeSupport
	conversion ConversionService
	publisher  EventPublisher
	policy     ListenerFailurePolicy
	logger     *slog.Logger
}

// NewBindingContext builds the binding table for the type of prototype (a struct
// or a pointer to one) under prefix. The prefix must be in canonical form
// ("app.service"); an empty prefix binds properties at the root of the key space.
func NewBindingContext(prototype interface{}, prefix string, opts ...Option) (*BindingContext, error) {
	if prototype == nil {
		return nil, errors.New(ErrCodeInvalidBeanType, "prototype cannot be nil")
	}
	return newBindingContext(reflect.TypeOf(prototype), prefix, opts)
}

// NewBindingContextFor is the generic form of NewBindingContext.
func NewBindingContextFor[T any](prefix string, opts ...Option) (*BindingContext, error) {
	return newBindingContext(reflect.TypeOf((*T)(nil)).Elem(), prefix, opts)
}

func newBindingContext(t reflect.Type, prefix string, opts []Option) (*BindingContext, error) {
	name, err := ParsePropertyName(prefix)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPrefix, "invalid configuration prefix").
			WithContext("prefix", prefix)
	}

	beanType := indirectType(t)
	bindings, err := buildBindings(beanType, name.String())
	if err != nil {
		return nil, err
	}

	chains := make(map[string][]PropertyDescriptor, len(bindings))
	for key, path := range bindings {
		chain, err := resolvePath(beanType, path)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidPropertyPath, "binding does not resolve").
				WithContext("key", key).
				WithContext("path", path)
		}
		chains[key] = chain
	}

	o := applyOptions(opts)
	return &BindingContext{
		prefix:     name.String(),
		beanType:   beanType,
		bindings:   bindings,
		chains:     chains,
		reference:  reflect.New(beanType),
		support:    newPropertyChangeSupport(),
		conversion: o.conversion,
		publisher:  o.publisher,
		policy:     o.policy,
		logger:     o.logger,
	}, nil
}

// Initialize attaches the live bean. It must be a non-nil pointer to the bean type
// and is accepted exactly once. The bean's current values are copied into the
// context's reference instance.
func (c *BindingContext) Initialize(bean interface{}) error {
	v := reflect.ValueOf(bean)
	if bean == nil || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != c.beanType {
		return errors.New(ErrCodeBeanTypeMismatch, "bean must be a non-nil pointer to the bound type").
			WithContext("expected", "*"+c.beanType.String()).
			WithContext("actual", typeName(bean))
	}

	c.mu.Lock()
	if c.initialized.Load() {
		c.mu.Unlock()
		return errors.New(ErrCodeAlreadyInitialized, "binding context is already initialized").
			WithContext("prefix", c.prefix)
	}
	c.bean = v
	c.reference.Elem().Set(v.Elem())
	c.initialized.Store(true)
	c.mu.Unlock()

	if c.publisher != nil {
		c.support.add(&applicationEventAdapter{publisher: c.publisher})
	}

	c.logger.Debug("binding context initialized",
		"prefix", c.prefix,
		"type", c.beanType.String(),
		"keys", len(c.bindings))
	return nil
}

// SetProperty applies newValue to the property bound to property.Name. The value is
// converted to the declared property type first; a conversion failure leaves the bean
// untouched. When the converted value is deeply equal to the current one nothing
// happens. Otherwise the bean is updated, every listener is invoked in registration
// order and one BeanPropertyChangedEvent is published.
func (c *BindingContext) SetProperty(property ConfigurationProperty, newValue interface{}) error {
	_, err := c.setProperty(property, newValue)
	return err
}

// setProperty reports whether the bean was modified. A listener failure under
// ListenerAbort still reports changed, since the write has already happened.
func (c *BindingContext) setProperty(property ConfigurationProperty, newValue interface{}) (bool, error) {
	if !c.initialized.Load() {
		return false, errors.New(ErrCodeNotInitialized, "binding context is not initialized").
			WithContext("prefix", c.prefix)
	}

	key := property.Name.String()
	chain, ok := c.chains[key]
	if !ok {
		return false, errors.New(ErrCodeKeyNotBound, "configuration key is not bound").
			WithContext("key", key).
			WithContext("prefix", c.prefix)
	}
	path := c.bindings[key]
	target := chain[len(chain)-1].Type

	converted, err := c.conversion.Convert(newValue, target)
	if err != nil {
		return false, errors.Wrap(err, ErrCodeConversionFailed, "cannot convert property value").
			WithContext("key", key).
			WithContext("path", path)
	}
	value, err := assignableValue(converted, target)
	if err != nil {
		return false, errors.Wrap(err, ErrCodeConversionFailed, "converter returned an incompatible value").
			WithContext("key", key).
			WithContext("path", path)
	}

	c.mu.Lock()
	oldValue, _ := readPath(c.bean, chain)
	if reflect.DeepEqual(oldValue, converted) {
		c.mu.Unlock()
		return false, nil
	}
	if err := writePath(c.bean, chain, value); err != nil {
		c.mu.Unlock()
		return false, err
	}
	if err := writePath(c.reference, chain, value); err != nil {
		c.logger.Warn("reference instance out of sync", "key", key, "error", err)
	}
	listeners := c.support.snapshot()
	c.mu.Unlock()

	c.logger.Debug("property changed",
		"key", key,
		"path", path,
		"origin", property.Origin)

	event := PropertyChangeEvent{
		Source:       c.bean.Interface(),
		PropertyName: path,
		OldValue:     oldValue,
		NewValue:     converted,
	}
	if err := c.fire(listeners, event); err != nil {
		return true, err
	}

	if c.publisher != nil {
		c.publisher.Publish(BeanPropertyChangedEvent{
			Bean:         c.bean.Interface(),
			Prefix:       c.prefix,
			Key:          key,
			PropertyPath: path,
			OldValue:     oldValue,
			NewValue:     converted,
			Property:     property,
			Timestamp:    timecache.CachedTime(),
		})
	}
	return true, nil
}

// SetPropertyValue is SetProperty for a key given as a string. The key is adapted
// to canonical form, so "app.maxRetries" and "app.max_retries" both reach "app.max-retries".
func (c *BindingContext) SetPropertyValue(key string, newValue interface{}) error {
	name, err := AdaptPropertyName(key)
	if err != nil {
		return errors.Wrap(err, ErrCodeKeyNotBound, "configuration key is not bound").
			WithContext("key", key)
	}
	return c.SetProperty(ConfigurationProperty{Name: name, Value: newValue}, newValue)
}

func (c *BindingContext) fire(listeners []PropertyChangeListener, event PropertyChangeEvent) error {
	for i, l := range listeners {
		err := invokeListener(l, event)
		if err == nil {
			continue
		}
		if c.policy == ListenerAbort {
			return errors.Wrap(err, ErrCodeListenerFailed, "property change listener failed").
				WithContext("path", event.PropertyName).
				WithContext("listener", i)
		}
		c.logger.Error("property change listener failed",
			"path", event.PropertyName,
			"listener", i,
			"error", err)
	}
	return nil
}

// assignableValue turns a converted value into something writePath can assign.
func assignableValue(converted interface{}, target reflect.Type) (reflect.Value, error) {
	if converted == nil {
		return reflect.Zero(target), nil
	}
	v := reflect.ValueOf(converted)
	if !v.Type().AssignableTo(target) {
		return reflect.Value{}, errors.New(ErrCodeConversionFailed, "value type is not assignable").
			WithContext("value_type", v.Type().String()).
			WithContext("target_type", target.String())
	}
	return v, nil
}

// Prefix returns the canonical configuration prefix.
func (c *BindingContext) Prefix() string { return c.prefix }

// BeanType returns the bound struct type.
func (c *BindingContext) BeanType() reflect.Type { return c.beanType }

// IsInitialized reports whether Initialize has been accepted.
func (c *BindingContext) IsInitialized() bool { return c.initialized.Load() }

// Bean returns the live bean, or nil before Initialize.
func (c *BindingContext) Bean() interface{} {
	if !c.initialized.Load() {
		return nil
	}
	return c.bean.Interface()
}

// ReferenceInstance returns a copy of the reference instance as a value of the bean type.
func (c *BindingContext) ReferenceInstance() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference.Elem().Interface()
}

// GetPropertyValue reads a nested property of the live bean by property path
// ("retry.max"). Nil intermediate pointers read as nil.
func (c *BindingContext) GetPropertyValue(path string) (interface{}, error) {
	if !c.initialized.Load() {
		return nil, errors.New(ErrCodeNotInitialized, "binding context is not initialized").
			WithContext("prefix", c.prefix)
	}
	chain, err := resolvePath(c.beanType, path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, _ := readPath(c.bean, chain)
	return value, nil
}

// PropertyPath returns the property path bound to a canonical configuration key.
func (c *BindingContext) PropertyPath(key string) (string, bool) {
	path, ok := c.bindings[key]
	return path, ok
}

// PropertyType returns the declared type of the property bound to key.
func (c *BindingContext) PropertyType(key string) (reflect.Type, bool) {
	chain, ok := c.chains[key]
	if !ok {
		return nil, false
	}
	return chain[len(chain)-1].Type, true
}

// Bindings returns a copy of the key -> property path table.
func (c *BindingContext) Bindings() map[string]string {
	out := make(map[string]string, len(c.bindings))
	for k, v := range c.bindings {
		out[k] = v
	}
	return out
}

// Keys returns the bound configuration keys in lexical order.
func (c *BindingContext) Keys() []string {
	return sortedKeys(c.bindings)
}

// AddPropertyChangeListener appends l to the listener list. Duplicates are kept.
func (c *BindingContext) AddPropertyChangeListener(l PropertyChangeListener) {
	if l == nil {
		return
	}
	c.support.add(l)
}

// RemovePropertyChangeListener removes the first registration of l.
// Removing a listener that is not registered is a no-op.
func (c *BindingContext) RemovePropertyChangeListener(l PropertyChangeListener) {
	c.support.remove(l)
}

// ListenerCount returns the number of registered listeners, including the
// event bus adapter added by Initialize.
func (c *BindingContext) ListenerCount() int { return c.support.len() }

// OnPropertyChange registers fn and returns a function that removes it again.
func (c *BindingContext) OnPropertyChange(fn func(PropertyChangeEvent)) (remove func()) {
	l := &funcListener{fn: fn}
	c.support.add(l)
	return func() { c.support.remove(l) }
}

func typeName(v interface{}) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
