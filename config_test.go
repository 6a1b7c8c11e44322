// config_test.go: Tests for watcher configuration defaults and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_WithDefaults(t *testing.T) {
	config := (&Config{}).WithDefaults()

	if config.PollInterval != 5*time.Second {
		t.Errorf("Expected PollInterval 5s, got %v", config.PollInterval)
	}
	if config.CacheTTL != 2500*time.Millisecond {
		t.Errorf("Expected CacheTTL 2.5s, got %v", config.CacheTTL)
	}
	if config.MaxWatchedFiles != 100 {
		t.Errorf("Expected MaxWatchedFiles 100, got %d", config.MaxWatchedFiles)
	}
	if config.Audit.Enabled {
		t.Error("Audit should be disabled by default")
	}
	if config.Logger == nil {
		t.Error("Expected a default logger")
	}

	custom := (&Config{PollInterval: time.Second, CacheTTL: 3 * time.Second}).WithDefaults()
	if custom.CacheTTL != 500*time.Millisecond {
		t.Errorf("CacheTTL above PollInterval should be clamped to half of it, got %v", custom.CacheTTL)
	}

	audited := (&Config{Audit: AuditConfig{Enabled: true}}).WithDefaults()
	if audited.Audit.BufferSize != 1000 || audited.Audit.FlushInterval != 5*time.Second {
		t.Errorf("Unexpected audit defaults: %+v", audited.Audit)
	}

	original := &Config{}
	_ = original.WithDefaults()
	if original.PollInterval != 0 {
		t.Error("WithDefaults must not modify the receiver")
	}
}

func TestConfig_ValidateDetailed(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name             string
		config           Config
		expectedValid    bool
		expectedErrors   int
		expectedWarnings int
	}{
		{
			name: "valid default config",
			config: func() Config {
				c := (&Config{}).WithDefaults()
				c.Audit = AuditConfig{Enabled: true, OutputFile: filepath.Join(tempDir, "audit.jsonl"), BufferSize: 10}
				return *c
			}(),
			expectedValid: true,
		},
		{
			name:           "invalid poll interval",
			config:         Config{PollInterval: -time.Second, MaxWatchedFiles: 100},
			expectedValid:  false,
			expectedErrors: 1,
		},
		{
			name:           "poll interval too small",
			config:         Config{PollInterval: time.Millisecond, MaxWatchedFiles: 100},
			expectedValid:  false,
			expectedErrors: 1,
		},
		{
			name:             "cache TTL above poll interval",
			config:           Config{PollInterval: time.Second, CacheTTL: 2 * time.Second, MaxWatchedFiles: 100},
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name:           "negative cache TTL and zero max files",
			config:         Config{PollInterval: time.Second, CacheTTL: -1},
			expectedValid:  false,
			expectedErrors: 2,
		},
		{
			name:             "too many files",
			config:           Config{PollInterval: time.Second, MaxWatchedFiles: 20000},
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name: "invalid audit settings",
			config: Config{
				PollInterval:    time.Second,
				MaxWatchedFiles: 10,
				Audit: AuditConfig{
					Enabled:       true,
					BufferSize:    -1,
					FlushInterval: -time.Second,
					OutputFile:    filepath.Join(tempDir, "missing", "audit.db"),
				},
			},
			expectedValid:  false,
			expectedErrors: 3,
		},
		{
			name: "unbuffered audit",
			config: Config{
				PollInterval:    time.Second,
				MaxWatchedFiles: 10,
				Audit:           AuditConfig{Enabled: true, OutputFile: filepath.Join(tempDir, "audit.db")},
			},
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name:             "fast polling with many files",
			config:           Config{PollInterval: 50 * time.Millisecond, CacheTTL: 10 * time.Millisecond, MaxWatchedFiles: 500},
			expectedValid:    true,
			expectedWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.ValidateDetailed()
			if result.Valid != tt.expectedValid {
				t.Errorf("Expected valid=%v, got %v (errors: %v)", tt.expectedValid, result.Valid, result.Errors)
			}
			if len(result.Errors) != tt.expectedErrors {
				t.Errorf("Expected %d errors, got %d: %v", tt.expectedErrors, len(result.Errors), result.Errors)
			}
			if len(result.Warnings) != tt.expectedWarnings {
				t.Errorf("Expected %d warnings, got %d: %v", tt.expectedWarnings, len(result.Warnings), result.Warnings)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{"poll interval", Config{MaxWatchedFiles: 1}, ErrCodeInvalidPollInterval},
		{"too small", Config{PollInterval: time.Millisecond, MaxWatchedFiles: 1}, ErrCodePollIntervalTooSmall},
		{"cache ttl", Config{PollInterval: time.Second, CacheTTL: -1, MaxWatchedFiles: 1}, ErrCodeInvalidCacheTTL},
		{"max files", Config{PollInterval: time.Second}, ErrCodeInvalidMaxWatched},
		{"buffer", Config{PollInterval: time.Second, MaxWatchedFiles: 1, Audit: AuditConfig{Enabled: true, BufferSize: -1}}, ErrCodeInvalidBufferSize},
		{"flush", Config{PollInterval: time.Second, MaxWatchedFiles: 1, Audit: AuditConfig{Enabled: true, FlushInterval: -1}}, ErrCodeInvalidFlushInterval},
		{"output file", Config{PollInterval: time.Second, MaxWatchedFiles: 1, Audit: AuditConfig{Enabled: true, OutputFile: "/"}}, ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if ErrorCode(err) != tt.expected {
				t.Errorf("Expected %s, got %v", tt.expected, err)
			}
			if !IsValidationError(err) {
				t.Errorf("Expected %v to be a validation error", err)
			}
		})
	}

	valid := Config{PollInterval: time.Second, MaxWatchedFiles: 1}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
	if IsValidationError(nil) {
		t.Error("nil is not a validation error")
	}
}

func TestValidationResult_String(t *testing.T) {
	if s := (ValidationResult{Valid: true}).String(); s != "Configuration is valid" {
		t.Errorf("Unexpected string: %s", s)
	}
	if s := (ValidationResult{Valid: true, Warnings: []string{"w"}}).String(); !strings.Contains(s, "1 warning") {
		t.Errorf("Unexpected string: %s", s)
	}
	if s := (ValidationResult{Errors: []string{"a", "b"}}).String(); !strings.Contains(s, "2 error(s)") {
		t.Errorf("Unexpected string: %s", s)
	}
}

func TestApplyOptions(t *testing.T) {
	defaults := applyOptions(nil)
	if defaults.policy != ListenerIsolate || defaults.conversion == nil || defaults.logger == nil {
		t.Errorf("Unexpected defaults: %+v", defaults)
	}

	logger := slog.New(slog.DiscardHandler)
	bus := NewEventBus(logger)
	svc := NewConversionService()
	o := applyOptions([]Option{
		nil,
		WithLogger(logger),
		WithLogger(nil),
		WithEventPublisher(bus),
		WithConversionService(svc),
		WithConversionService(nil),
		WithListenerFailurePolicy(ListenerAbort),
	})
	if o.logger != logger || o.publisher != bus || o.conversion != svc || o.policy != ListenerAbort {
		t.Errorf("Options not applied: %+v", o)
	}
}
