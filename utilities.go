// utilities.go: Convenience helpers wiring sources, contexts and watchers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"context"
	"os"

	"github.com/agilira/go-errors"
)

// WatchAndBind binds bean under prefix from the configuration file at path and
// keeps it bound while the file changes. bean must be a non-nil pointer to a
// struct. Close the returned watcher to stop watching.
//
// Example:
//
//	svc := &Service{}
//	bc, watcher, err := propbind.WatchAndBind("app.yaml", svc, "app.service", propbind.Config{})
//	if err != nil {
//	    return err
//	}
//	defer watcher.Close()
//	bc.OnPropertyChange(func(e propbind.PropertyChangeEvent) { ... })
func WatchAndBind(path string, bean interface{}, prefix string, config Config, opts ...Option) (*BindingContext, *Watcher, error) {
	source, err := NewFileSource(path)
	if err != nil {
		return nil, nil, err
	}

	bc, err := NewBindingContext(bean, prefix, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := bc.Initialize(bean); err != nil {
		return nil, nil, err
	}

	binder := NewBinder(source)
	if err := binder.Register(bc); err != nil {
		return nil, nil, err
	}
	if _, err := binder.Bind(context.Background()); err != nil {
		return nil, nil, err
	}

	watcher, err := binder.WatchFile(source, config)
	if err != nil {
		return nil, nil, err
	}
	return bc, watcher, nil
}

// ConfigFileWatcher watches a configuration file in any supported format and
// hands the parsed content to callback, first with the current content (when
// the file exists) and then after every change.
//
// Example:
//
//	watcher, err := propbind.ConfigFileWatcher("config.yml", func(config map[string]interface{}) {
//	    if level, ok := config["log_level"].(string); ok {
//	        setLevel(level)
//	    }
//	}, propbind.Config{})
func ConfigFileWatcher(configPath string, callback func(config map[string]interface{}), config Config) (*Watcher, error) {
	if callback == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "callback cannot be nil")
	}
	format := DetectFormat(configPath)
	if format == FormatUnknown {
		return nil, errors.New(ErrCodeUnsupportedFormat, "unsupported config format").
			WithContext("path", configPath)
	}

	watcher, err := NewWatcher(config)
	if err != nil {
		return nil, err
	}

	load := func(path string) (map[string]interface{}, error) {
		data, err := os.ReadFile(path) // #nosec G304 -- path has passed ValidateSecurePath in Watch
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeFileNotFound, "failed to read config file").
				WithContext("path", path)
		}
		return ParseConfig(data, format)
	}

	watchCallback := func(event ChangeEvent) {
		if event.IsDelete {
			watcher.auditLogger.LogFileWatch("config_deleted", event.Path)
			return
		}
		parsed, err := load(event.Path)
		if err != nil {
			watcher.auditLogger.LogFileWatch(AuditEventReloadFailed, event.Path)
			watcher.handleError(err, event.Path)
			return
		}
		callback(parsed)
	}

	if err := watcher.Watch(configPath, watchCallback); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		initial, err := load(configPath)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		callback(initial)
	}

	if err := watcher.Start(); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// SimpleFileWatcher creates a basic file watcher with default configuration.
// callback receives the path of every created or modified file. The watcher
// is returned unstarted.
func SimpleFileWatcher(filePath string, callback func(path string)) (*Watcher, error) {
	if callback == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "callback cannot be nil")
	}
	watcher, err := NewWatcher(Config{})
	if err != nil {
		return nil, err
	}

	if err := watcher.Watch(filePath, func(event ChangeEvent) {
		if !event.IsDelete {
			callback(event.Path)
		}
	}); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}
