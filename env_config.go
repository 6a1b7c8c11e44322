// env_config.go: Environment variable support for propbind watcher configuration
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// EnvConfig represents watcher configuration loaded from environment variables
type EnvConfig struct {
	// Core Configuration
	PollInterval    time.Duration `env:"PROPBIND_POLL_INTERVAL"`
	CacheTTL        time.Duration `env:"PROPBIND_CACHE_TTL"`
	MaxWatchedFiles int           `env:"PROPBIND_MAX_WATCHED_FILES"`

	// Audit Configuration
	AuditEnabled       bool          `env:"PROPBIND_AUDIT_ENABLED"`
	AuditOutputFile    string        `env:"PROPBIND_AUDIT_OUTPUT_FILE"`
	AuditMinLevel      string        `env:"PROPBIND_AUDIT_MIN_LEVEL"`
	AuditBufferSize    int           `env:"PROPBIND_AUDIT_BUFFER_SIZE"`
	AuditFlushInterval time.Duration `env:"PROPBIND_AUDIT_FLUSH_INTERVAL"`

	// Logging
	LogLevel string `env:"PROPBIND_LOG_LEVEL"`
}

// LoadConfigFromEnv loads watcher configuration from environment variables and
// applies defaults for everything left unset.
func LoadConfigFromEnv() (*Config, error) {
	envConfig := &EnvConfig{}
	if err := loadEnvVars(envConfig); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}

	config := &Config{}
	if err := convertEnvToConfig(envConfig, config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to convert environment configuration")
	}

	return config.WithDefaults(), nil
}

// loadEnvVars loads environment variables into the EnvConfig struct
func loadEnvVars(envConfig *EnvConfig) error {
	if err := loadCoreConfig(envConfig); err != nil {
		return err
	}
	if err := loadAuditConfig(envConfig); err != nil {
		return err
	}
	envConfig.LogLevel = os.Getenv("PROPBIND_LOG_LEVEL")
	return nil
}

// loadCoreConfig loads core configuration from environment variables
func loadCoreConfig(envConfig *EnvConfig) error {
	if pollStr := os.Getenv("PROPBIND_POLL_INTERVAL"); pollStr != "" {
		duration, err := time.ParseDuration(pollStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid PROPBIND_POLL_INTERVAL format")
		}
		envConfig.PollInterval = duration
	}

	if cacheStr := os.Getenv("PROPBIND_CACHE_TTL"); cacheStr != "" {
		duration, err := time.ParseDuration(cacheStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid PROPBIND_CACHE_TTL format")
		}
		envConfig.CacheTTL = duration
	}

	if maxStr := os.Getenv("PROPBIND_MAX_WATCHED_FILES"); maxStr != "" {
		maxFiles, err := strconv.Atoi(maxStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid PROPBIND_MAX_WATCHED_FILES value")
		}
		envConfig.MaxWatchedFiles = maxFiles
	}
	return nil
}

// loadAuditConfig loads audit configuration from environment variables
func loadAuditConfig(envConfig *EnvConfig) error {
	if auditStr := os.Getenv("PROPBIND_AUDIT_ENABLED"); auditStr != "" {
		envConfig.AuditEnabled = parseBool(auditStr)
	}

	envConfig.AuditOutputFile = os.Getenv("PROPBIND_AUDIT_OUTPUT_FILE")
	envConfig.AuditMinLevel = os.Getenv("PROPBIND_AUDIT_MIN_LEVEL")

	if bufferStr := os.Getenv("PROPBIND_AUDIT_BUFFER_SIZE"); bufferStr != "" {
		buffer, err := strconv.Atoi(bufferStr)
		if err != nil || buffer <= 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid PROPBIND_AUDIT_BUFFER_SIZE value")
		}
		envConfig.AuditBufferSize = buffer
	}

	if flushStr := os.Getenv("PROPBIND_AUDIT_FLUSH_INTERVAL"); flushStr != "" {
		duration, err := time.ParseDuration(flushStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid PROPBIND_AUDIT_FLUSH_INTERVAL format")
		}
		envConfig.AuditFlushInterval = duration
	}
	return nil
}

// convertEnvToConfig converts EnvConfig to standard Config
func convertEnvToConfig(envConfig *EnvConfig, config *Config) error {
	config.PollInterval = envConfig.PollInterval
	config.CacheTTL = envConfig.CacheTTL
	config.MaxWatchedFiles = envConfig.MaxWatchedFiles

	if err := convertAuditConfig(envConfig, config); err != nil {
		return err
	}

	if envConfig.LogLevel != "" {
		level, err := ParseLogLevel(envConfig.LogLevel)
		if err != nil {
			return err
		}
		config.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return nil
}

// convertAuditConfig converts audit configuration from EnvConfig to Config
func convertAuditConfig(envConfig *EnvConfig, config *Config) error {
	if !envConfig.AuditEnabled && envConfig.AuditOutputFile == "" {
		return nil
	}

	config.Audit.Enabled = envConfig.AuditEnabled || envConfig.AuditOutputFile != ""
	config.Audit.OutputFile = envConfig.AuditOutputFile
	config.Audit.BufferSize = envConfig.AuditBufferSize
	config.Audit.FlushInterval = envConfig.AuditFlushInterval

	if envConfig.AuditMinLevel != "" {
		level, err := ParseAuditLevel(envConfig.AuditMinLevel)
		if err != nil {
			return err
		}
		config.Audit.MinLevel = level
	}
	return nil
}

// ParseAuditLevel parses an audit level name (info, warn, critical, security)
func ParseAuditLevel(levelStr string) (AuditLevel, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "info":
		return AuditInfo, nil
	case "warn", "warning":
		return AuditWarn, nil
	case "critical", "error":
		return AuditCritical, nil
	case "security":
		return AuditSecurity, nil
	default:
		return AuditInfo, errors.New(ErrCodeInvalidConfig, "invalid audit level").
			WithContext("level", levelStr)
	}
}

// ParseLogLevel parses a slog level name (debug, info, warn, error)
func ParseLogLevel(levelStr string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(levelStr))); err != nil {
		return slog.LevelInfo, errors.Wrap(err, ErrCodeInvalidConfig, "invalid log level").
			WithContext("level", levelStr)
	}
	return level, nil
}

// parseBool parses boolean values from environment variables
// Supports: true/false, 1/0, yes/no, on/off, enabled/disabled
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}

// GetEnvWithDefault returns environment variable value or default if not set
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDurationWithDefault returns environment variable as duration or default
func GetEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvIntWithDefault returns environment variable as int or default
func GetEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvBoolWithDefault returns environment variable as bool or default
func GetEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value)
	}
	return defaultValue
}
