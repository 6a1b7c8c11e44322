// sources.go: Property sources for propbind
//
// A PropertySource answers "which value does configuration key X have?" for one
// origin of configuration: an in-memory map, a file, the process environment or
// command-line flags. Sources are consulted by the Binder in precedence order.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// PropertySource provides configuration values by canonical property name.
type PropertySource interface {
	Name() string
	Lookup(name ConfigurationPropertyName) (ConfigurationProperty, bool)
}

// Reloadable is implemented by sources whose content can be re-read.
type Reloadable interface {
	Reload() error
}

// keyIndex maps canonical names onto the raw keys of a loaded koanf tree. Every
// ancestor of a leaf is indexed too, so that struct and map properties can be
// looked up as a whole.
type keyIndex struct {
	k      *koanf.Koanf
	byName map[string]string // canonical name -> raw koanf key
	leaves []string          // canonical leaf names, sorted
}

func newKeyIndex(k *koanf.Koanf) *keyIndex {
	ix := &keyIndex{
		k:      k,
		byName: make(map[string]string),
	}
	for _, raw := range k.Keys() {
		elements := strings.Split(raw, ".")
		canonical := make([]string, 0, len(elements))
		valid := true
		for i, element := range elements {
			adapted := adaptElement(element)
			if validateElement(adapted) != nil {
				valid = false
				break
			}
			canonical = append(canonical, adapted)
			name := strings.Join(canonical, ".")
			if _, exists := ix.byName[name]; !exists {
				ix.byName[name] = strings.Join(elements[:i+1], ".")
			}
		}
		if valid {
			ix.leaves = append(ix.leaves, strings.Join(canonical, "."))
		}
	}
	sort.Strings(ix.leaves)
	return ix
}

func (ix *keyIndex) lookup(name ConfigurationPropertyName) (interface{}, string, bool) {
	raw, ok := ix.byName[name.String()]
	if !ok {
		return nil, "", false
	}
	return ix.k.Get(raw), raw, true
}

// MapSource serves values from an in-memory map. Keys may be nested maps or
// flat dotted keys, in any of camelCase, snake_case or kebab-case.
type MapSource struct {
	name  string
	mu    sync.RWMutex
	index *keyIndex
}

// NewMapSource loads values into a new source.
func NewMapSource(name string, values map[string]interface{}) (*MapSource, error) {
	s := &MapSource{name: name}
	if err := s.Set(values); err != nil {
		return nil, err
	}
	return s, nil
}

// Set replaces the content of the source.
func (s *MapSource) Set(values map[string]interface{}) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
		return errors.Wrap(err, ErrCodeSourceFailed, "failed to load map values").
			WithContext("source", s.name)
	}
	ix := newKeyIndex(k)

	s.mu.Lock()
	s.index = ix
	s.mu.Unlock()
	return nil
}

// Name implements PropertySource.
func (s *MapSource) Name() string { return s.name }

// Lookup implements PropertySource.
func (s *MapSource) Lookup(name ConfigurationPropertyName) (ConfigurationProperty, bool) {
	s.mu.RLock()
	ix := s.index
	s.mu.RUnlock()

	value, _, ok := ix.lookup(name)
	if !ok {
		return ConfigurationProperty{}, false
	}
	return ConfigurationProperty{Name: name, Value: value, Origin: "map:" + s.name}, true
}

// Names returns the canonical leaf names held by the source.
func (s *MapSource) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.index.leaves...)
}

// EnvSource serves values from environment variables. Key "app.max-retries" is
// looked up as APP_MAXRETRIES first and APP_MAX_RETRIES second, each prefixed by
// Prefix when set.
type EnvSource struct {
	// Prefix is prepended to every variable name, e.g. "MYSVC_".
	Prefix string

	// LookupFunc reads a variable. Default: os.LookupEnv.
	LookupFunc func(key string) (string, bool)
}

// NewEnvSource creates an environment source reading the process environment.
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{Prefix: prefix, LookupFunc: os.LookupEnv}
}

// Name implements PropertySource.
func (s *EnvSource) Name() string { return "env" }

// Lookup implements PropertySource.
func (s *EnvSource) Lookup(name ConfigurationPropertyName) (ConfigurationProperty, bool) {
	if name.IsEmpty() {
		return ConfigurationProperty{}, false
	}
	lookup := s.LookupFunc
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, variable := range envVariableNames(name.String()) {
		variable = s.Prefix + variable
		if value, ok := lookup(variable); ok {
			return ConfigurationProperty{Name: name, Value: value, Origin: "env:" + variable}, true
		}
	}
	return ConfigurationProperty{}, false
}
