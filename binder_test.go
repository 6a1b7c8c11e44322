// binder_test.go: Tests for the binding pass over property sources
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"context"
	"os"
	"testing"
	"time"
)

func newMapSource(t *testing.T, name string, values map[string]interface{}) *MapSource {
	t.Helper()
	source, err := NewMapSource(name, values)
	if err != nil {
		t.Fatalf("NewMapSource failed: %v", err)
	}
	return source
}

func TestBinder_Precedence(t *testing.T) {
	overrides := newMapSource(t, "overrides", map[string]interface{}{
		"app.port": "9090",
	})
	defaults := newMapSource(t, "defaults", map[string]interface{}{
		"app": map[string]interface{}{
			"host":  "localhost",
			"port":  8080,
			"retry": map[string]interface{}{"max": 3},
		},
	})

	bean := &scenarioBean{}
	bc := newInitializedContext(t, bean, "app")

	binder := NewBinder(overrides, nil, defaults)
	if len(binder.Sources()) != 2 {
		t.Fatalf("Expected nil source to be ignored, got %d sources", len(binder.Sources()))
	}
	if err := binder.Register(bc); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	report, err := binder.Bind(context.Background())
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if bean.Host != "localhost" || bean.Port != 9090 || bean.Retry.Max != 3 {
		t.Errorf("Unexpected bean: %+v", bean)
	}
	if report.Contexts != 1 || report.Keys != 3 || report.Changed != 3 {
		t.Errorf("Unexpected report: %+v", report)
	}

	property, ok := binder.Lookup(MustPropertyName("app.port"))
	if !ok || property.Origin != "map:overrides" {
		t.Errorf("Expected override to win, got %+v", property)
	}
}

func TestBinder_SecondPassChangesNothing(t *testing.T) {
	source := newMapSource(t, "values", map[string]interface{}{
		"app.host": "localhost",
		"app.port": 8080,
	})
	bean := &scenarioBean{}
	bc := newInitializedContext(t, bean, "app")
	listener := &recordingListener{name: "l"}
	bc.AddPropertyChangeListener(listener)

	binder := NewBinder(source)
	if err := binder.Register(bc); err != nil {
		t.Fatal(err)
	}
	if _, err := binder.Bind(context.Background()); err != nil {
		t.Fatalf("First pass failed: %v", err)
	}
	report, err := binder.Bind(context.Background())
	if err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}
	if report.Keys != 2 || report.Changed != 0 {
		t.Errorf("Expected 2 keys and no change, got %+v", report)
	}
	if listener.count() != 2 {
		t.Errorf("Expected 2 notifications in total, got %d", listener.count())
	}
}

func TestBinder_MultipleContexts(t *testing.T) {
	source := newMapSource(t, "values", map[string]interface{}{
		"app.host":          "primary",
		"replica.host":      "secondary",
		"replica.retry.max": 7,
	})

	primary := &scenarioBean{}
	replica := &scenarioBean{}
	binder := NewBinder(source)
	if err := binder.Register(newInitializedContext(t, primary, "app")); err != nil {
		t.Fatal(err)
	}
	if err := binder.Register(newInitializedContext(t, replica, "replica")); err != nil {
		t.Fatal(err)
	}

	report, err := binder.Bind(context.Background())
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if primary.Host != "primary" || replica.Host != "secondary" || replica.Retry.Max != 7 {
		t.Errorf("Unexpected beans: %+v %+v", primary, replica)
	}
	if report.Contexts != 2 || report.Changed != 3 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestBinder_Register(t *testing.T) {
	binder := NewBinder()
	if err := binder.Register(nil); ErrorCode(err) != ErrCodeNotInitialized {
		t.Errorf("Expected %s for nil context, got %v", ErrCodeNotInitialized, err)
	}

	bc, err := NewBindingContext(scenarioBean{}, "app")
	if err != nil {
		t.Fatal(err)
	}
	if err := binder.Register(bc); ErrorCode(err) != ErrCodeNotInitialized {
		t.Errorf("Expected %s for uninitialized context, got %v", ErrCodeNotInitialized, err)
	}
}

func TestBinder_ConversionErrorStopsPass(t *testing.T) {
	source := newMapSource(t, "values", map[string]interface{}{
		"app.host": "localhost",
		"app.port": "not-a-port",
	})
	bean := &scenarioBean{Port: 8080}
	bc := newInitializedContext(t, bean, "app")

	binder := NewBinder(source)
	if err := binder.Register(bc); err != nil {
		t.Fatal(err)
	}

	report, err := binder.Bind(context.Background())
	if ErrorCode(err) != ErrCodeConversionFailed {
		t.Fatalf("Expected %s, got %v", ErrCodeConversionFailed, err)
	}
	// Keys are visited in lexical order: app.host before app.port.
	if bean.Host != "localhost" || report.Changed != 1 {
		t.Errorf("Expected host applied before failure, got %+v / %+v", bean, report)
	}
	if bean.Port != 8080 {
		t.Errorf("Failed key must leave the bean untouched, got port %d", bean.Port)
	}
}

func TestBinder_Canceled(t *testing.T) {
	source := newMapSource(t, "values", map[string]interface{}{"app.host": "x"})
	bean := &scenarioBean{}
	binder := NewBinder(source)
	if err := binder.Register(newInitializedContext(t, bean, "app")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := binder.Bind(ctx); ErrorCode(err) != ErrCodeBindCanceled {
		t.Errorf("Expected %s, got %v", ErrCodeBindCanceled, err)
	}
	if bean.Host != "" {
		t.Errorf("Canceled pass should apply nothing, got %q", bean.Host)
	}
}

func TestBinder_Refresh(t *testing.T) {
	path := writeConfigFile(t, "app.yaml", "app:\n  host: first\n")
	file, err := NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	bean := &scenarioBean{}
	binder := NewBinder(NewEnvSource("PBTEST_REFRESH_"), file)
	if err := binder.Register(newInitializedContext(t, bean, "app")); err != nil {
		t.Fatal(err)
	}
	if _, err := binder.Bind(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("app:\n  host: second\n  port: 81\n"), 0600); err != nil {
		t.Fatal(err)
	}
	report, err := binder.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if bean.Host != "second" || bean.Port != 81 || report.Changed != 2 {
		t.Errorf("Unexpected refresh result: %+v / %+v", bean, report)
	}

	if err := os.WriteFile(path, []byte("app: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := binder.Refresh(context.Background()); ErrorCode(err) != ErrCodeSourceFailed {
		t.Errorf("Expected %s, got %v", ErrCodeSourceFailed, err)
	}
	if bean.Host != "second" {
		t.Errorf("Failed refresh must not modify the bean, got %q", bean.Host)
	}
}

func TestBinder_WatchFile(t *testing.T) {
	path := writeConfigFile(t, "app.json", `{"app": {"port": 1000}}`)
	file, err := NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	bean := &scenarioBean{}
	bc := newInitializedContext(t, bean, "app")
	changed := make(chan PropertyChangeEvent, 4)
	bc.OnPropertyChange(func(e PropertyChangeEvent) { changed <- e })

	binder := NewBinder(file)
	if err := binder.Register(bc); err != nil {
		t.Fatal(err)
	}
	if _, err := binder.Bind(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-changed

	if _, err := binder.WatchFile(nil, Config{}); ErrorCode(err) != ErrCodeInvalidConfig {
		t.Errorf("Expected %s, got %v", ErrCodeInvalidConfig, err)
	}

	watcher, err := binder.WatchFile(file, Config{PollInterval: 20 * time.Millisecond, CacheTTL: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("WatchFile failed: %v", err)
	}
	defer func() { _ = watcher.Close() }()
	if !watcher.IsRunning() {
		t.Error("Watcher should be started")
	}

	// Let the watcher record the initial state before modifying the file.
	time.Sleep(60 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"app": {"port": 2000, "host": "reloaded"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case e := <-changed:
			seen[e.PropertyName] = true
		case <-deadline:
			t.Fatalf("Timed out waiting for reload, saw %v", seen)
		}
	}
	if bean.Port != 2000 {
		t.Errorf("Expected port 2000, got %d", bean.Port)
	}
}
