// property_name.go: Configuration property identity for propbind
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"fmt"
	"strings"

	"github.com/agilira/go-errors"
)

// ConfigurationPropertyName is the canonical identity of a configuration key:
// lower-case, dash-separated words, dot-separated elements (e.g. "app.retry.max-attempts").
// The zero value is the empty name. Values are comparable and can be used as map keys.
type ConfigurationPropertyName struct {
	name string
}

// ParsePropertyName parses a name that is already in canonical form.
// Every element must be non-empty and contain only a-z, 0-9 and '-', and must not
// start with '-'.
func ParsePropertyName(name string) (ConfigurationPropertyName, error) {
	if name == "" {
		return ConfigurationPropertyName{}, nil
	}
	for _, element := range strings.Split(name, ".") {
		if err := validateElement(element); err != nil {
			return ConfigurationPropertyName{}, errors.Wrap(err, ErrCodeInvalidPropertyName, "invalid configuration property name").
				WithContext("name", name)
		}
	}
	return ConfigurationPropertyName{name: name}, nil
}

// AdaptPropertyName converts a relaxed key ("App.Retry.maxAttempts", "app.retry.max_attempts")
// into its canonical form before validating it.
func AdaptPropertyName(name string) (ConfigurationPropertyName, error) {
	if strings.TrimSpace(name) == "" {
		return ConfigurationPropertyName{}, nil
	}
	elements := strings.Split(name, ".")
	for i, element := range elements {
		elements[i] = adaptElement(element)
	}
	return ParsePropertyName(strings.Join(elements, "."))
}

// MustPropertyName is like ParsePropertyName but panics on an invalid name.
// Intended for constants and tests.
func MustPropertyName(name string) ConfigurationPropertyName {
	n, err := ParsePropertyName(name)
	if err != nil {
		panic(err)
	}
	return n
}

func validateElement(element string) error {
	if element == "" {
		return errors.New(ErrCodeInvalidPropertyName, "empty name element")
	}
	if element[0] == '-' {
		return errors.New(ErrCodeInvalidPropertyName, "element must not start with '-': "+element)
	}
	for _, r := range element {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return errors.New(ErrCodeInvalidPropertyName, fmt.Sprintf("invalid character %q in element %q", r, element))
		}
	}
	return nil
}

// String returns the canonical form used to look up bound property paths.
func (n ConfigurationPropertyName) String() string {
	return n.name
}

// IsEmpty reports whether n is the empty name.
func (n ConfigurationPropertyName) IsEmpty() bool {
	return n.name == ""
}

// Elements returns the dot-separated elements of the name.
func (n ConfigurationPropertyName) Elements() []string {
	if n.name == "" {
		return nil
	}
	return strings.Split(n.name, ".")
}

// Append returns a child name. The element is adapted to dashed form.
func (n ConfigurationPropertyName) Append(element string) (ConfigurationPropertyName, error) {
	adapted := adaptElement(element)
	if err := validateElement(adapted); err != nil {
		return ConfigurationPropertyName{}, errors.Wrap(err, ErrCodeInvalidPropertyName, "invalid name element").
			WithContext("element", element)
	}
	if n.name == "" {
		return ConfigurationPropertyName{name: adapted}, nil
	}
	return ConfigurationPropertyName{name: n.name + "." + adapted}, nil
}

// IsAncestorOf reports whether n is a strict ancestor of other
// ("app" is an ancestor of "app.retry.max").
func (n ConfigurationPropertyName) IsAncestorOf(other ConfigurationPropertyName) bool {
	if n.name == "" {
		return other.name != ""
	}
	return strings.HasPrefix(other.name, n.name+".")
}

// ConfigurationProperty is a single value contributed by a property source.
type ConfigurationProperty struct {
	Name   ConfigurationPropertyName
	Value  interface{}
	Origin string // where the value came from, e.g. "file:/etc/app.yaml" or "env:APP_PORT"
}

// String implements fmt.Stringer for diagnostics.
func (p ConfigurationProperty) String() string {
	if p.Origin == "" {
		return fmt.Sprintf("%s=%v", p.Name, p.Value)
	}
	return fmt.Sprintf("%s=%v (%s)", p.Name, p.Value, p.Origin)
}
