// line_validation_test.go: Tests for INI and properties line validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"strings"
	"testing"
)

func TestValidateINISection(t *testing.T) {
	tests := []struct {
		line    string
		wantErr string
	}{
		{"[database]", ""},
		{"  [app.retry]  ", ""},
		{"[database", "malformed brackets"},
		{"[[nested]]", "nested brackets"},
		{"[]", "empty section name"},
		{"[   ]", "empty section name"},
	}

	for _, tt := range tests {
		err := validateINISection(tt.line, 3)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("validateINISection(%q) unexpected error: %v", tt.line, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) || !strings.Contains(err.Error(), "line 3") {
			t.Errorf("validateINISection(%q) expected %q at line 3, got %v", tt.line, tt.wantErr, err)
			continue
		}
		if ErrorCode(err) != ErrCodeSourceFailed {
			t.Errorf("Expected %s, got %s", ErrCodeSourceFailed, ErrorCode(err))
		}
	}
}

func TestValidateLineKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr string
	}{
		{"host", ""},
		{"app.max-retries", ""},
		{"app.max_retries", ""},
		{"", "key cannot be empty"},
		{"bad\x00key", "null byte"},
		{"bad\x07key", "non-printable"},
		{"two words", "whitespace"},
	}

	for _, tt := range tests {
		err := validateLineKey("Properties", tt.key, 7)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("validateLineKey(%q) unexpected error: %v", tt.key, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("validateLineKey(%q) expected %q, got %v", tt.key, tt.wantErr, err)
			continue
		}
		if !strings.Contains(err.Error(), "Properties key at line 7") {
			t.Errorf("Expected format and line in %q", err.Error())
		}
	}
}

func TestParseINI_ErrorsReportLine(t *testing.T) {
	_, err := parseINI([]byte("[app]\nhost = a\n\n; comment\nbroken line\n"))
	if err == nil || !strings.Contains(err.Error(), "line 5") {
		t.Errorf("Expected error at line 5, got %v", err)
	}
}

func TestParseProperties_Separators(t *testing.T) {
	config, err := parseProperties([]byte("a=1\nb: two\nc = x=y\n! comment\n"))
	if err != nil {
		t.Fatalf("parseProperties failed: %v", err)
	}
	if config["a"] != 1 || config["b"] != "two" || config["c"] != "x=y" {
		t.Errorf("Unexpected values: %#v", config)
	}
}
