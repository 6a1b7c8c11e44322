// Command handlers for the propbind CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/propbind"
)

// handleKeys lists the canonical leaf keys of a file with their values.
func (m *Manager) handleKeys(ctx *orpheus.Context) error {
	filePath := ctx.GetArg(0)
	prefix := ctx.GetFlagString("prefix")

	if m.auditLogger != nil {
		m.auditLogger.LogFileWatch("cli_keys", filePath)
	}

	source, err := m.loadSource(filePath, m.detectFormat(filePath, ctx.GetFlagString("format")))
	if err != nil {
		return err
	}
	values, err := snapshot(source, prefix)
	if err != nil {
		return err
	}

	if len(values) == 0 {
		if prefix != "" {
			fmt.Fprintf(m.out, "No keys found under prefix '%s'\n", prefix)
		} else {
			fmt.Fprintln(m.out, "No configuration keys found")
		}
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(m.out, "Configuration keys in %s:\n", filePath)
	for _, key := range keys {
		fmt.Fprintf(m.out, "  %s = %s\n", key, formatValue(values[key]))
	}
	return nil
}

// handleGet prints the value of one key. The key may be given in any relaxed
// form; nested sections print as maps.
func (m *Manager) handleGet(ctx *orpheus.Context) error {
	filePath := ctx.GetArg(0)
	key := ctx.GetArg(1)
	if key == "" {
		return errors.New(propbind.ErrCodeInvalidPropertyName, "configuration key is required")
	}

	if m.auditLogger != nil {
		m.auditLogger.LogFileWatch("cli_get", filePath)
	}

	source, err := m.loadSource(filePath, m.detectFormat(filePath, ctx.GetFlagString("format")))
	if err != nil {
		return err
	}
	name, err := propbind.AdaptPropertyName(key)
	if err != nil {
		return err
	}
	property, ok := source.Lookup(name)
	if !ok {
		return errors.New(propbind.ErrCodeKeyNotBound, fmt.Sprintf("key '%s' not found", name.String())).
			WithContext("path", filePath)
	}

	fmt.Fprintf(m.out, "%v\n", property.Value)
	return nil
}

// handleDiff prints the keys whose values differ between two files.
func (m *Manager) handleDiff(ctx *orpheus.Context) error {
	oldPath := ctx.GetArg(0)
	newPath := ctx.GetArg(1)
	prefix := ctx.GetFlagString("prefix")

	oldSource, err := m.loadSource(oldPath, propbind.DetectFormat(oldPath))
	if err != nil {
		return err
	}
	newSource, err := m.loadSource(newPath, propbind.DetectFormat(newPath))
	if err != nil {
		return err
	}

	before, err := snapshot(oldSource, prefix)
	if err != nil {
		return err
	}
	after, err := snapshot(newSource, prefix)
	if err != nil {
		return err
	}

	changes := diffSnapshots(before, after)
	if len(changes) == 0 {
		fmt.Fprintln(m.out, "No differences")
		return nil
	}
	for _, c := range changes {
		fmt.Fprintln(m.out, c.String())
	}
	fmt.Fprintf(m.out, "%d key(s) differ\n", len(changes))
	return nil
}

// handleValidate checks that a file parses without syntax errors.
func (m *Manager) handleValidate(ctx *orpheus.Context) error {
	filePath := ctx.GetArg(0)
	format := m.detectFormat(filePath, ctx.GetFlagString("format"))

	source, err := m.loadSource(filePath, format)
	if err != nil {
		fmt.Fprintf(m.out, "Invalid %s configuration: %v\n", format.String(), err)
		return err
	}

	fmt.Fprintf(m.out, "Valid %s configuration: %s (%d keys)\n", format.String(), filePath, len(source.Names()))
	return nil
}

// handleWatch prints key-level changes every time the file is modified.
func (m *Manager) handleWatch(ctx *orpheus.Context) error {
	filePath := ctx.GetArg(0)
	verbose := ctx.GetFlagBool("verbose")

	interval, err := parseExtendedDuration(ctx.GetFlagString("interval"))
	if err != nil {
		return errors.Wrap(err, propbind.ErrCodeInvalidPollInterval, "invalid interval")
	}
	duration, err := parseExtendedDuration(ctx.GetFlagString("duration"))
	if err != nil {
		return errors.Wrap(err, propbind.ErrCodeInvalidConfig, "invalid duration")
	}

	source, err := m.loadSource(filePath, propbind.DetectFormat(filePath))
	if err != nil {
		return err
	}
	current, err := snapshot(source, "")
	if err != nil {
		return err
	}

	config := propbind.Config{PollInterval: interval}
	if store := ctx.GetFlagString("audit"); store != "" {
		config.Audit = propbind.AuditConfig{Enabled: true, OutputFile: store}
	}
	config.ErrorHandler = func(err error, path string) {
		fmt.Fprintf(m.out, "Error in %s: %v\n", path, err)
	}

	watcher, err := propbind.NewWatcher(config)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	var mu sync.Mutex
	err = watcher.Watch(filePath, func(event propbind.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()

		if event.IsDelete {
			fmt.Fprintf(m.out, "File deleted: %s\n", event.Path)
			return
		}
		if err := source.Reload(); err != nil {
			fmt.Fprintf(m.out, "Reload failed: %v\n", err)
			return
		}
		next, err := snapshot(source, "")
		if err != nil {
			fmt.Fprintf(m.out, "Reload failed: %v\n", err)
			return
		}
		changes := diffSnapshots(current, next)
		current = next

		if len(changes) == 0 {
			if verbose {
				fmt.Fprintf(m.out, "File touched, no key changed: %s\n", event.Path)
			}
			return
		}
		fmt.Fprintf(m.out, "File changed: %s\n", event.Path)
		for _, c := range changes {
			fmt.Fprintf(m.out, "  %s\n", c.String())
			watcher.AuditLogger().LogPropertyChange(propbind.BeanPropertyChangedEvent{
				Prefix:   "cli_watch",
				Key:      c.Key,
				OldValue: c.OldValue,
				NewValue: c.NewValue,
				Property: propbind.ConfigurationProperty{Origin: "file:" + event.Path},
			})
		}
	})
	if err != nil {
		return err
	}

	// Output is written before Start; afterwards only the callback writes.
	fmt.Fprintf(m.out, "Watching %s (interval: %v)\n", filePath, interval)
	if duration <= 0 {
		fmt.Fprintln(m.out, "Press Ctrl+C to stop...")
	}

	waitCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, duration)
		defer cancel()
	}

	if err := watcher.Start(); err != nil {
		return err
	}
	<-waitCtx.Done()
	return nil
}

// openAuditLogger returns the configured audit logger or opens store. The
// returned function releases a logger opened here.
func (m *Manager) openAuditLogger(store string) (*propbind.AuditLogger, func(), error) {
	if store == "" && m.auditLogger != nil {
		return m.auditLogger, func() {}, nil
	}
	logger, err := propbind.NewAuditLogger(propbind.AuditConfig{
		Enabled:       true,
		OutputFile:    store,
		BufferSize:    1,
		FlushInterval: time.Hour,
	})
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Close() }, nil
}

// handleAuditQuery prints matching audit events, newest first.
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	since, err := parseExtendedDuration(ctx.GetFlagString("since"))
	if err != nil {
		return errors.Wrap(err, propbind.ErrCodeInvalidConfig, "invalid since value")
	}

	logger, release, err := m.openAuditLogger(ctx.GetFlagString("store"))
	if err != nil {
		return err
	}
	defer release()

	events, err := logger.Query(propbind.AuditQuery{
		Since:     time.Now().Add(-since),
		Event:     ctx.GetFlagString("event"),
		Component: ctx.GetFlagString("component"),
		Key:       ctx.GetFlagString("key"),
		Limit:     ctx.GetFlagInt("limit"),
	})
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(m.out, "No audit events found")
		return nil
	}
	for _, e := range events {
		line := fmt.Sprintf("%s [%s] %s %s", e.Timestamp.UTC().Format(time.RFC3339), e.Level, e.Event, e.Component)
		if e.Key != "" {
			line += fmt.Sprintf(" %s: %s -> %s", e.Key, formatValue(e.OldValue), formatValue(e.NewValue))
		}
		if e.Origin != "" {
			line += " (" + e.Origin + ")"
		}
		fmt.Fprintln(m.out, line)
	}
	fmt.Fprintf(m.out, "%d event(s)\n", len(events))
	return nil
}

// handleAuditStats prints audit trail statistics.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	logger, release, err := m.openAuditLogger(ctx.GetFlagString("store"))
	if err != nil {
		return err
	}
	defer release()

	stats, err := logger.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Total events: %d\n", stats.TotalEvents)
	if stats.OldestEvent != nil && stats.NewestEvent != nil {
		fmt.Fprintf(m.out, "Range: %s .. %s\n",
			stats.OldestEvent.UTC().Format(time.RFC3339),
			stats.NewestEvent.UTC().Format(time.RFC3339))
	}
	printCounts(m, "By level", stats.EventsByLevel)
	printCounts(m, "By component", stats.EventsByComponent)
	return nil
}

func printCounts(m *Manager, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(m.out, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(m.out, "  %s: %d\n", k, counts[k])
	}
}

// handleAuditCleanup removes audit entries older than the given age.
func (m *Manager) handleAuditCleanup(ctx *orpheus.Context) error {
	olderThan, err := parseExtendedDuration(ctx.GetFlagString("older-than"))
	if err != nil {
		return errors.Wrap(err, propbind.ErrCodeInvalidConfig, "invalid older-than value")
	}

	logger, release, err := m.openAuditLogger(ctx.GetFlagString("store"))
	if err != nil {
		return err
	}
	defer release()

	if ctx.GetFlagBool("dry-run") {
		events, err := logger.Query(propbind.AuditQuery{})
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-olderThan)
		var count int
		for _, e := range events {
			if e.Timestamp.Before(cutoff) {
				count++
			}
		}
		fmt.Fprintf(m.out, "Would delete %d event(s) older than %v\n", count, olderThan)
		return nil
	}

	deleted, err := logger.Cleanup(olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Deleted %d event(s) older than %v\n", deleted, olderThan)
	return nil
}

// handleInfo displays version and capabilities.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	fmt.Fprintln(m.out, "propbind - configuration property binding")
	fmt.Fprintf(m.out, "Version: %s\n", Version)

	if ctx.GetFlagBool("verbose") {
		fmt.Fprintf(m.out, "Go version: %s\n", runtime.Version())
		fmt.Fprintln(m.out, "Supported formats: JSON, YAML, INI, Properties")
		fmt.Fprintln(m.out, "Audit backends: SQLite (.db), JSONL (.jsonl)")
		fmt.Fprintf(m.out, "Audit logging: %v\n", m.auditLogger != nil)
	}
	return nil
}
