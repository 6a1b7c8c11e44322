// Utility functions for the propbind CLI
//
// This file provides helpers for format detection, source loading, key
// snapshots and diffs, and extended duration parsing.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/propbind"
)

// detectFormat detects configuration format from file extension or explicit format.
func (m *Manager) detectFormat(filePath, explicitFormat string) propbind.ConfigFormat {
	if explicitFormat != "" && explicitFormat != "auto" {
		return m.parseExplicitFormat(explicitFormat)
	}
	return propbind.DetectFormat(filePath)
}

// parseExplicitFormat parses an explicitly specified format string.
func (m *Manager) parseExplicitFormat(formatStr string) propbind.ConfigFormat {
	switch strings.ToLower(formatStr) {
	case "json":
		return propbind.FormatJSON
	case "yaml", "yml":
		return propbind.FormatYAML
	case "ini", "conf", "cfg":
		return propbind.FormatINI
	case "properties":
		return propbind.FormatProperties
	default:
		return propbind.FormatUnknown
	}
}

// loadSource validates filePath and loads it as a file source.
func (m *Manager) loadSource(filePath string, format propbind.ConfigFormat) (*propbind.FileSource, error) {
	if filePath == "" {
		return nil, errors.New(propbind.ErrCodeInvalidConfig, "configuration file path is required")
	}
	if err := propbind.ValidateSecurePath(filePath); err != nil {
		return nil, err
	}
	return propbind.NewFileSourceWithFormat(filePath, format)
}

// snapshot returns the leaf values of source, restricted to keys under prefix.
func snapshot(source *propbind.FileSource, prefix string) (map[string]interface{}, error) {
	var root propbind.ConfigurationPropertyName
	if prefix != "" {
		var err error
		if root, err = propbind.AdaptPropertyName(prefix); err != nil {
			return nil, err
		}
	}

	values := make(map[string]interface{})
	for _, key := range source.Names() {
		name := propbind.MustPropertyName(key)
		if !root.IsEmpty() && name.String() != root.String() && !root.IsAncestorOf(name) {
			continue
		}
		if property, ok := source.Lookup(name); ok {
			values[key] = property.Value
		}
	}
	return values, nil
}

// keyChange is one entry of a snapshot diff.
type keyChange struct {
	Key      string
	OldValue interface{}
	NewValue interface{}
	Added    bool
	Removed  bool
}

func (c keyChange) String() string {
	switch {
	case c.Added:
		return fmt.Sprintf("+ %s = %s", c.Key, formatValue(c.NewValue))
	case c.Removed:
		return fmt.Sprintf("- %s = %s", c.Key, formatValue(c.OldValue))
	default:
		return fmt.Sprintf("~ %s: %s -> %s", c.Key, formatValue(c.OldValue), formatValue(c.NewValue))
	}
}

// diffSnapshots lists added, removed and modified keys in key order. Values are
// compared with reflect.DeepEqual, like BindingContext.SetProperty does.
func diffSnapshots(before, after map[string]interface{}) []keyChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []keyChange
	for _, k := range sorted {
		oldValue, inBefore := before[k]
		newValue, inAfter := after[k]
		switch {
		case !inBefore:
			changes = append(changes, keyChange{Key: k, NewValue: newValue, Added: true})
		case !inAfter:
			changes = append(changes, keyChange{Key: k, OldValue: oldValue, Removed: true})
		case !reflect.DeepEqual(oldValue, newValue):
			changes = append(changes, keyChange{Key: k, OldValue: oldValue, NewValue: newValue})
		}
	}
	return changes
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

var extendedDurationPattern = regexp.MustCompile(`^(\d+)(d|w)$`)

// parseExtendedDuration parses duration strings with extended units (d, w).
// Supports all Go standard units (ns, us, ms, s, m, h) plus:
// - d: days (24 hours)
// - w: weeks (7 days)
//
// Examples: "30d", "2w", "7d", "24h", "5m", "30s"
func parseExtendedDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := extendedDurationPattern.FindStringSubmatch(s)
	if len(matches) != 3 {
		_, err := time.ParseDuration(s)
		return 0, err
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	switch matches[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	}
}
