// utilities_test.go: Tests for the convenience watch helpers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchAndBind(t *testing.T) {
	path := writeConfigFile(t, "service.yaml", "app:\n  host: initial\n  port: 8080\n")

	bean := &scenarioBean{}
	bc, watcher, err := WatchAndBind(path, bean, "app", fastWatcherConfig())
	if err != nil {
		t.Fatalf("WatchAndBind failed: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	if bean.Host != "initial" || bean.Port != 8080 {
		t.Fatalf("Expected initial binding, got %+v", bean)
	}

	changes := make(chan PropertyChangeEvent, 4)
	bc.OnPropertyChange(func(e PropertyChangeEvent) { changes <- e })

	time.Sleep(60 * time.Millisecond)
	if err := os.WriteFile(path, []byte("app:\n  host: initial\n  port: 9090\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-changes:
		if e.PropertyName != "port" || e.OldValue != 8080 || e.NewValue != 9090 {
			t.Errorf("Unexpected change event: %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for the port change")
	}

	select {
	case e := <-changes:
		t.Errorf("Unchanged host must not notify, got %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchAndBind_AuditsPublishedChanges(t *testing.T) {
	path := writeConfigFile(t, "service.yaml", "app:\n  port: 8080\n")
	bus := NewEventBus(nil)

	config := fastWatcherConfig()
	config.Audit = AuditConfig{Enabled: true, OutputFile: filepath.Join(t.TempDir(), "audit.jsonl")}

	bean := &scenarioBean{}
	_, watcher, err := WatchAndBind(path, bean, "app", config, WithEventPublisher(bus))
	if err != nil {
		t.Fatalf("WatchAndBind failed: %v", err)
	}
	if bus.Subscribers() != 1 {
		t.Fatalf("Expected the audit trail to subscribe to the bus, got %d subscribers", bus.Subscribers())
	}

	time.Sleep(60 * time.Millisecond)
	if err := os.WriteFile(path, []byte("app:\n  port: 9090\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var events []AuditEvent
	deadline := time.Now().Add(3 * time.Second)
	for len(events) == 0 && time.Now().Before(deadline) {
		events, err = watcher.AuditLogger().Query(AuditQuery{Event: AuditEventPropertyChange})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 audited property change, got %d", len(events))
	}
	if e := events[0]; e.Key != "app.port" || e.Component != "app" || e.PropertyPath != "port" {
		t.Errorf("Unexpected audit event: %+v", e)
	}

	if err := watcher.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Expected the subscription to end with the watcher, got %d subscribers", bus.Subscribers())
	}
}

func TestWatchAndBind_Errors(t *testing.T) {
	if _, _, err := WatchAndBind(filepath.Join(t.TempDir(), "missing.yaml"), &scenarioBean{}, "app", Config{}); ErrorCode(err) != ErrCodeFileNotFound {
		t.Errorf("Expected %s, got %v", ErrCodeFileNotFound, err)
	}

	path := writeConfigFile(t, "bad.yaml", "app:\n  port: not-a-number\n")
	if _, _, err := WatchAndBind(path, &scenarioBean{}, "app", Config{}); ErrorCode(err) != ErrCodeConversionFailed {
		t.Errorf("Expected %s, got %v", ErrCodeConversionFailed, err)
	}

	path = writeConfigFile(t, "ok.yaml", "app:\n  port: 1\n")
	if _, _, err := WatchAndBind(path, scenarioBean{}, "app", Config{}); ErrorCode(err) != ErrCodeBeanTypeMismatch {
		t.Errorf("Expected %s for a non-pointer bean, got %v", ErrCodeBeanTypeMismatch, err)
	}
}

func TestConfigFileWatcher(t *testing.T) {
	path := writeConfigFile(t, "app.properties", "log.level=info\n")

	configs := make(chan map[string]interface{}, 4)
	watcher, err := ConfigFileWatcher(path, func(config map[string]interface{}) {
		configs <- config
	}, fastWatcherConfig())
	if err != nil {
		t.Fatalf("ConfigFileWatcher failed: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	initial := <-configs
	if level := initial["log"].(map[string]interface{})["level"]; level != "info" {
		t.Errorf("Expected initial level info, got %v", level)
	}

	time.Sleep(60 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log.level=debug\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case config := <-configs:
		if level := config["log"].(map[string]interface{})["level"]; level != "debug" {
			t.Errorf("Expected level debug, got %v", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for the reloaded configuration")
	}
}

func TestConfigFileWatcher_Errors(t *testing.T) {
	if _, err := ConfigFileWatcher("app.yaml", nil, Config{}); ErrorCode(err) != ErrCodeInvalidConfig {
		t.Errorf("Expected %s for nil callback, got %v", ErrCodeInvalidConfig, err)
	}
	if _, err := ConfigFileWatcher("app.toml", func(map[string]interface{}) {}, Config{}); ErrorCode(err) != ErrCodeUnsupportedFormat {
		t.Errorf("Expected %s, got %v", ErrCodeUnsupportedFormat, err)
	}
	path := writeConfigFile(t, "broken.json", `{"a": `)
	if _, err := ConfigFileWatcher(path, func(map[string]interface{}) {}, Config{}); ErrorCode(err) != ErrCodeSourceFailed {
		t.Errorf("Expected %s, got %v", ErrCodeSourceFailed, err)
	}
}

func TestSimpleFileWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.ini")
	paths := make(chan string, 4)

	watcher, err := SimpleFileWatcher(path, func(p string) { paths <- p })
	if err != nil {
		t.Fatalf("SimpleFileWatcher failed: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	if watcher.IsRunning() {
		t.Error("SimpleFileWatcher should return an unstarted watcher")
	}
	if watcher.WatchedFiles() != 1 {
		t.Errorf("Expected 1 watched file, got %d", watcher.WatchedFiles())
	}

	if _, err := SimpleFileWatcher(path, nil); ErrorCode(err) != ErrCodeInvalidConfig {
		t.Errorf("Expected %s for nil callback, got %v", ErrCodeInvalidConfig, err)
	}
}
