// config.go: Configuration management for propbind
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"log/slog"
	"time"
)

// Option configures a BindingContext.
type Option func(*options)

type options struct {
	conversion ConversionService
	publisher  EventPublisher
	policy     ListenerFailurePolicy
	logger     *slog.Logger
}

// WithConversionService replaces the default conversion service.
func WithConversionService(svc ConversionService) Option {
	return func(o *options) {
		if svc != nil {
			o.conversion = svc
		}
	}
}

// WithEventPublisher sets the bus that receives change events.
func WithEventPublisher(publisher EventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithListenerFailurePolicy selects how panicking listeners are handled.
func WithListenerFailurePolicy(policy ListenerFailurePolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		conversion: defaultConversion,
		policy:     ListenerIsolate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ErrorHandler is called when errors occur while watching or reloading files.
// It receives the error and the file path where the error occurred.
type ErrorHandler func(err error, filepath string)

// Config configures the file Watcher.
type Config struct {
	// PollInterval is how often to check for file changes
	// Default: 5 seconds
	PollInterval time.Duration

	// CacheTTL is how long to cache os.Stat() results
	// Should be <= PollInterval for effectiveness
	// Default: PollInterval / 2
	CacheTTL time.Duration

	// MaxWatchedFiles limits the number of files that can be watched
	// Default: 100
	MaxWatchedFiles int

	// Audit configures the audit trail of the watcher. The zero value disables it.
	Audit AuditConfig

	// ErrorHandler is called when errors occur during watching or reloading.
	// If nil, errors are logged through Logger.
	ErrorHandler ErrorHandler

	// Logger receives operational logs. Default: slog.Default().
	Logger *slog.Logger
}

// WithDefaults applies sensible defaults to the configuration
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}

	if config.CacheTTL <= 0 {
		config.CacheTTL = config.PollInterval / 2
	}

	// GUARD RAIL: Ensure CacheTTL <= PollInterval for effectiveness
	if config.CacheTTL > config.PollInterval {
		config.CacheTTL = config.PollInterval / 2
	}

	if config.MaxWatchedFiles <= 0 {
		config.MaxWatchedFiles = 100
	}

	if config.Audit.Enabled {
		config.Audit = config.Audit.withDefaults()
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &config
}
