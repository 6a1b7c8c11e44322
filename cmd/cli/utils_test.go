// utils_test.go: Tests for CLI helper functions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/agilira/propbind"
)

func TestParseExtendedDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"24h", 24 * time.Hour, false},
		{"0", 0, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1.5d", 0, true},
		{"d", 0, true},
		{"", 0, true},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		d, err := parseExtendedDuration(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseExtendedDuration(%q) expected error, got %v", tt.input, d)
			}
			continue
		}
		if err != nil || d != tt.expected {
			t.Errorf("parseExtendedDuration(%q) = %v, %v; expected %v", tt.input, d, err, tt.expected)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	manager := NewManager()
	tests := []struct {
		path     string
		explicit string
		expected propbind.ConfigFormat
	}{
		{"config.json", "", propbind.FormatJSON},
		{"config.json", "auto", propbind.FormatJSON},
		{"config.txt", "YAML", propbind.FormatYAML},
		{"config.txt", "yml", propbind.FormatYAML},
		{"config.txt", "cfg", propbind.FormatINI},
		{"config.txt", "properties", propbind.FormatProperties},
		{"config.json", "toml", propbind.FormatUnknown},
	}
	for _, tt := range tests {
		if got := manager.detectFormat(tt.path, tt.explicit); got != tt.expected {
			t.Errorf("detectFormat(%q, %q) = %v, expected %v", tt.path, tt.explicit, got, tt.expected)
		}
	}
}

func TestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte("app:\n  host: h\n  retry:\n    max: 3\napplication:\n  name: other\n"), 0600); err != nil {
		t.Fatal(err)
	}
	source, err := propbind.NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}

	all, err := snapshot(source, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("Expected 3 keys, got %v (err %v)", all, err)
	}

	// "application" shares a string prefix with "app" but is not under it.
	scoped, err := snapshot(source, "app")
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]interface{}{"app.host": "h", "app.retry.max": 3}
	if !reflect.DeepEqual(scoped, expected) {
		t.Errorf("Expected %v, got %v", expected, scoped)
	}

	leaf, err := snapshot(source, "App.Host")
	if err != nil || len(leaf) != 1 || leaf["app.host"] != "h" {
		t.Errorf("Relaxed leaf prefix: got %v (err %v)", leaf, err)
	}

	if _, err := snapshot(source, "bad..prefix"); err == nil {
		t.Error("Expected error for invalid prefix")
	}
}

func TestDiffSnapshots(t *testing.T) {
	before := map[string]interface{}{"a": 1, "b": "x", "c": []interface{}{1, 2}}
	after := map[string]interface{}{"b": "y", "c": []interface{}{1, 2}, "d": true}

	changes := diffSnapshots(before, after)
	if len(changes) != 3 {
		t.Fatalf("Expected 3 changes, got %+v", changes)
	}
	expected := []string{`- a = 1`, `~ b: "x" -> "y"`, `+ d = true`}
	for i, c := range changes {
		if c.String() != expected[i] {
			t.Errorf("Change %d: expected %q, got %q", i, expected[i], c.String())
		}
	}

	if diff := diffSnapshots(before, before); len(diff) != 0 {
		t.Errorf("Expected no changes, got %+v", diff)
	}
}

func TestFormatValue(t *testing.T) {
	if formatValue(nil) != "<nil>" || formatValue("s") != `"s"` || formatValue(1.5) != "1.5" {
		t.Error("Unexpected formatValue output")
	}
}
