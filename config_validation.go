// config_validation.go - configuration validation for the propbind watcher
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Validation errors
var (
	ErrInvalidPollInterval    = errors.New(ErrCodeInvalidPollInterval, "poll interval must be positive")
	ErrInvalidCacheTTL        = errors.New(ErrCodeInvalidCacheTTL, "cache TTL must not be negative")
	ErrInvalidMaxWatchedFiles = errors.New(ErrCodeInvalidMaxWatched, "max watched files must be positive")
	ErrPollIntervalTooSmall   = errors.New(ErrCodePollIntervalTooSmall, "poll interval should be at least 10ms for stability")
	ErrMaxFilesTooLarge       = errors.New(ErrCodeMaxFilesTooLarge, "max watched files exceeds recommended limit (10000)")
	ErrInvalidBufferSize      = errors.New(ErrCodeInvalidBufferSize, "audit buffer size must not be negative")
	ErrInvalidFlushInterval   = errors.New(ErrCodeInvalidFlushInterval, "audit flush interval must not be negative")
	ErrInvalidOutputFile      = errors.New(ErrCodeInvalidOutputFile, "audit output file path is invalid")
)

// ValidationResult contains the result of configuration validation with detailed feedback.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// String returns a human-readable representation of validation results
func (vr ValidationResult) String() string {
	if vr.Valid {
		if len(vr.Warnings) == 0 {
			return "Configuration is valid"
		}
		return fmt.Sprintf("Configuration is valid with %d warning(s)", len(vr.Warnings))
	}
	return fmt.Sprintf("Configuration is invalid: %d error(s), %d warning(s)",
		len(vr.Errors), len(vr.Warnings))
}

// Validate returns the first validation error of the configuration, or nil.
// Warnings are only reported by ValidateDetailed.
func (c *Config) Validate() error {
	result := c.ValidateDetailed()
	if result.Valid {
		return nil
	}

	first := result.Errors[0]
	for _, known := range []error{
		ErrInvalidPollInterval,
		ErrPollIntervalTooSmall,
		ErrInvalidCacheTTL,
		ErrInvalidMaxWatchedFiles,
		ErrInvalidBufferSize,
		ErrInvalidFlushInterval,
		ErrInvalidOutputFile,
	} {
		if first == known.Error() {
			return known
		}
	}
	return errors.New(ErrCodeInvalidConfig, first)
}

// ValidateDetailed performs comprehensive validation and returns detailed results
// including both errors and warnings
func (c *Config) ValidateDetailed() ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	c.validateCoreConfig(&result)
	c.validateAuditConfig(&result)
	c.validatePerformanceConstraints(&result)

	result.Valid = len(result.Errors) == 0
	return result
}

// validateCoreConfig validates essential configuration parameters
func (c *Config) validateCoreConfig(result *ValidationResult) {
	pollIntervalValid := true
	if c.PollInterval <= 0 {
		result.Errors = append(result.Errors, ErrInvalidPollInterval.Error())
		pollIntervalValid = false
	} else if c.PollInterval < 10*time.Millisecond {
		result.Errors = append(result.Errors, ErrPollIntervalTooSmall.Error())
		pollIntervalValid = false
	}

	if c.CacheTTL < 0 {
		result.Errors = append(result.Errors, ErrInvalidCacheTTL.Error())
	} else if pollIntervalValid && c.CacheTTL > c.PollInterval {
		result.Warnings = append(result.Warnings, "cache TTL should not exceed poll interval")
	}

	if c.MaxWatchedFiles <= 0 {
		result.Errors = append(result.Errors, ErrInvalidMaxWatchedFiles.Error())
	} else if c.MaxWatchedFiles > 10000 {
		result.Warnings = append(result.Warnings, ErrMaxFilesTooLarge.Error())
	}
}

// validateAuditConfig validates audit configuration if enabled
func (c *Config) validateAuditConfig(result *ValidationResult) {
	if !c.Audit.Enabled {
		return
	}

	switch {
	case c.Audit.BufferSize < 0:
		result.Errors = append(result.Errors, ErrInvalidBufferSize.Error())
	case c.Audit.BufferSize == 0:
		result.Warnings = append(result.Warnings, "audit buffer size is 0, every event is written immediately")
	case c.Audit.BufferSize > 10000:
		result.Warnings = append(result.Warnings, "large audit buffer size may consume significant memory")
	}

	if c.Audit.FlushInterval < 0 {
		result.Errors = append(result.Errors, ErrInvalidFlushInterval.Error())
	}

	// An empty output file selects the shared SQLite database.
	if c.Audit.OutputFile != "" {
		if err := validateOutputFile(c.Audit.OutputFile); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
}

// validateOutputFile checks that the audit output file lives in an existing directory
func validateOutputFile(outputFile string) error {
	cleanPath := filepath.Clean(outputFile)
	if cleanPath == "." || cleanPath == "/" {
		return errors.New(ErrCodeInvalidOutputFile,
			fmt.Sprintf("path '%s' is not a valid file path", outputFile))
	}

	dir := filepath.Dir(cleanPath)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(ErrCodeInvalidOutputFile,
				fmt.Sprintf("directory '%s' does not exist", dir))
		}
		return errors.Wrap(err, ErrCodeInvalidOutputFile,
			fmt.Sprintf("cannot access directory '%s'", dir))
	}
	if !info.IsDir() {
		return errors.New(ErrCodeInvalidOutputFile,
			fmt.Sprintf("'%s' is not a directory", dir))
	}
	return nil
}

// validatePerformanceConstraints adds performance-related warnings
func (c *Config) validatePerformanceConstraints(result *ValidationResult) {
	if c.PollInterval > 0 && c.PollInterval < 100*time.Millisecond && c.MaxWatchedFiles > 100 {
		result.Warnings = append(result.Warnings,
			"fast polling with many files may impact CPU usage")
	}

	if c.Audit.Enabled && c.Audit.FlushInterval > 0 && c.Audit.FlushInterval < time.Second && c.MaxWatchedFiles > 50 {
		result.Warnings = append(result.Warnings,
			"frequent audit flushing with many files may impact I/O performance")
	}
}

// ValidateEnvironmentConfig loads the watcher configuration from the environment and validates it
func ValidateEnvironmentConfig() error {
	config, err := LoadConfigFromEnv()
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to load config from environment")
	}
	return config.Validate()
}

// IsValidationError reports whether err carries a propbind error code
func IsValidationError(err error) bool {
	return strings.HasPrefix(ErrorCode(err), "PROPBIND_")
}
