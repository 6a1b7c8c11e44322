// source_flags.go: Command-line flag property source backed by FlashFlags
//
// Every bound configuration key becomes one string flag of the same name, so
// "app.retry.max" is set with --app.retry.max=5. Values stay strings here; the
// BindingContext converts them to the declared property type.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"sort"
	"strings"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// FlagSource serves values parsed from command-line flags.
type FlagSource struct {
	name  string
	flags *flashflags.FlagSet
	keys  map[string]struct{}
}

// NewFlagSource defines one string flag per key. Keys are adapted to canonical
// form; invalid keys are rejected.
func NewFlagSource(appName string, keys ...string) (*FlagSource, error) {
	s := &FlagSource{
		name:  appName,
		flags: flashflags.New(appName),
		keys:  make(map[string]struct{}, len(keys)),
	}
	for _, key := range keys {
		name, err := AdaptPropertyName(key)
		if err != nil {
			return nil, err
		}
		if name.IsEmpty() {
			continue
		}
		if _, exists := s.keys[name.String()]; exists {
			continue
		}
		s.keys[name.String()] = struct{}{}
		s.flags.String(name.String(), "", "configuration property "+name.String())
	}
	return s, nil
}

// NewFlagSourceFor defines flags for every key bound by the given contexts.
func NewFlagSourceFor(appName string, contexts ...*BindingContext) (*FlagSource, error) {
	var keys []string
	for _, c := range contexts {
		keys = append(keys, c.Keys()...)
	}
	return NewFlagSource(appName, keys...)
}

// SetDescription sets the description shown by PrintHelp.
func (s *FlagSource) SetDescription(description string) *FlagSource {
	s.flags.SetDescription(description)
	return s
}

// SetEnvPrefix lets FlashFlags fill unset flags from prefixed environment variables.
func (s *FlagSource) SetEnvPrefix(prefix string) *FlagSource {
	s.flags.SetEnvPrefix(strings.ToUpper(prefix))
	return s
}

// Parse parses command-line arguments (without the program name).
func (s *FlagSource) Parse(args []string) error {
	if err := s.flags.Parse(args); err != nil {
		return errors.Wrap(err, ErrCodeSourceFailed, "failed to parse command-line flags").
			WithContext("source", s.name)
	}
	return nil
}

// PrintHelp prints the flag usage.
func (s *FlagSource) PrintHelp() {
	s.flags.PrintHelp()
}

// Name implements PropertySource.
func (s *FlagSource) Name() string { return "flags" }

// Lookup implements PropertySource. A flag left empty counts as unset.
func (s *FlagSource) Lookup(name ConfigurationPropertyName) (ConfigurationProperty, bool) {
	key := name.String()
	if _, ok := s.keys[key]; !ok {
		return ConfigurationProperty{}, false
	}
	value := s.flags.GetString(key)
	if value == "" {
		return ConfigurationProperty{}, false
	}
	return ConfigurationProperty{Name: name, Value: value, Origin: "flag:--" + key}, true
}

// Names returns the defined flag names in lexical order.
func (s *FlagSource) Names() []string {
	names := make([]string, 0, len(s.keys))
	s.flags.VisitAll(func(flag *flashflags.Flag) {
		if _, ok := s.keys[flag.Name()]; ok {
			names = append(names, flag.Name())
		}
	})
	sort.Strings(names)
	return names
}
