// audit.go: Audit trail for property changes
//
// Every applied property change can be recorded in a tamper-evident audit trail.
// The logger subscribes to the event bus, buffers events in memory and flushes
// them to a pluggable backend (SQLite by default, JSONL for .jsonl output files).
//
// Features:
// - SHA-256 checksum per event for tamper detection
// - Cached timestamps from go-timecache
// - Background flushing with configurable buffer size and interval
// - Queryable history, statistics and retention cleanup
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// Audit event names
const (
	AuditEventPropertyChange = "property_change"
	AuditEventFileChange     = "file_change"
	AuditEventWatchStart     = "watch_start"
	AuditEventReloadFailed   = "reload_failed"
)

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp    time.Time              `json:"timestamp"`
	Level        AuditLevel             `json:"level"`
	Event        string                 `json:"event"`
	Component    string                 `json:"component"`
	Key          string                 `json:"key,omitempty"`
	PropertyPath string                 `json:"property_path,omitempty"`
	Origin       string                 `json:"origin,omitempty"`
	OldValue     interface{}            `json:"old_value,omitempty"`
	NewValue     interface{}            `json:"new_value,omitempty"`
	ProcessID    int                    `json:"process_id"`
	ProcessName  string                 `json:"process_name"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Checksum     string                 `json:"checksum"`
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled"`
	OutputFile    string        `json:"output_file"` // .jsonl selects JSONL, .db or empty selects SQLite
	MinLevel      AuditLevel    `json:"min_level"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultAuditConfig returns an enabled configuration writing to the shared SQLite database.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

func (c AuditConfig) withDefaults() AuditConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}

// AuditQuery filters audit history. Zero fields match everything.
type AuditQuery struct {
	Since     time.Time
	Event     string
	Component string
	Key       string
	Limit     int
}

// AuditLogger buffers audit events and writes them to its backend.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger. A disabled configuration yields a logger
// that drops every event and has no backend.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditBackend, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, config.BufferSize)

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log records an audit event
func (al *AuditLogger) Log(event AuditEvent) {
	if al == nil || al.backend == nil || !al.config.Enabled || event.Level < al.config.MinLevel {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = timecache.CachedTime()
	}
	event.ProcessID = al.processID
	event.ProcessName = al.processName
	event.Checksum = generateChecksum(event)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, event)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // background flush retries on the next tick
	}
	al.bufferMu.Unlock()
}

// LogPropertyChange records one applied property change.
func (al *AuditLogger) LogPropertyChange(event BeanPropertyChangedEvent) {
	al.Log(AuditEvent{
		Timestamp:    event.Timestamp,
		Level:        AuditCritical,
		Event:        AuditEventPropertyChange,
		Component:    event.Prefix,
		Key:          event.Key,
		PropertyPath: event.PropertyPath,
		Origin:       event.Property.Origin,
		OldValue:     event.OldValue,
		NewValue:     event.NewValue,
	})
}

// LogFileWatch logs file watch events
func (al *AuditLogger) LogFileWatch(event, filePath string) {
	al.Log(AuditEvent{Level: AuditInfo, Event: event, Component: "watcher", Origin: filePath})
}

// LogSecurityEvent logs security-related events
func (al *AuditLogger) LogSecurityEvent(event string, context map[string]interface{}) {
	al.Log(AuditEvent{Level: AuditSecurity, Event: event, Component: "watcher", Context: context})
}

// Enabled reports whether events are recorded.
func (al *AuditLogger) Enabled() bool {
	return al != nil && al.backend != nil && al.config.Enabled
}

// Handler returns an EventHandler that records every BeanPropertyChangedEvent.
//
//	unsubscribe := bus.Subscribe(auditLogger.Handler())
func (al *AuditLogger) Handler() EventHandler {
	return func(event interface{}) {
		if changed, ok := event.(BeanPropertyChangedEvent); ok {
			al.LogPropertyChange(changed)
		}
	}
}

// Query flushes pending events and returns the matching history, newest first.
func (al *AuditLogger) Query(q AuditQuery) ([]AuditEvent, error) {
	if err := al.Flush(); err != nil {
		return nil, err
	}
	if al.backend == nil {
		return nil, nil
	}
	return al.backend.Query(q)
}

// Stats flushes pending events and returns backend statistics.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if err := al.Flush(); err != nil {
		return nil, err
	}
	if al.backend == nil {
		return &AuditDatabaseStats{EventsByLevel: map[string]int64{}, EventsByComponent: map[string]int64{}}, nil
	}
	return al.backend.GetStats()
}

// Cleanup deletes events older than olderThan and returns how many were removed.
func (al *AuditLogger) Cleanup(olderThan time.Duration) (int64, error) {
	if err := al.Flush(); err != nil {
		return 0, err
	}
	if al.backend == nil {
		return 0, nil
	}
	return al.backend.Cleanup(time.Now().Add(-olderThan))
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if al == nil || al.backend == nil {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close flushes pending events and releases the backend. Safe to call more than once.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var err error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if al.backend == nil {
			return
		}
		if flushErr := al.Flush(); flushErr != nil {
			err = errors.Wrap(flushErr, ErrCodeAuditBackend, "failed to flush audit logger during close")
			return
		}
		if closeErr := al.backend.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, ErrCodeAuditBackend, "failed to close audit backend")
		}
	})
	return err
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes buffer to backend storage (caller must hold bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeAuditBackend, "failed to write audit events to backend")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%v:%v",
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Event, event.Component, event.Key, event.PropertyPath,
		event.OldValue, event.NewValue)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// VerifyChecksum reports whether event still matches its recorded checksum.
func VerifyChecksum(event AuditEvent) bool {
	return event.Checksum != "" && event.Checksum == generateChecksum(event)
}

func getProcessName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "propbind"
}
