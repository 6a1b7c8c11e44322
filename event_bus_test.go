// event_bus_test.go: Tests for the synchronous event bus
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func TestEventBus_OrderAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)

	var calls []string
	unsubscribeA := bus.Subscribe(func(event interface{}) { calls = append(calls, "a:"+event.(string)) })
	bus.Subscribe(func(event interface{}) { calls = append(calls, "b:"+event.(string)) })

	if bus.Subscribers() != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", bus.Subscribers())
	}

	bus.Publish("one")
	unsubscribeA()
	unsubscribeA() // harmless
	bus.Publish("two")

	expected := []string{"a:one", "b:one", "b:two"}
	if !reflect.DeepEqual(calls, expected) {
		t.Errorf("Expected %v, got %v", expected, calls)
	}
	if bus.Subscribers() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", bus.Subscribers())
	}
}

func TestEventBus_NilHandler(t *testing.T) {
	bus := NewEventBus(nil)
	unsubscribe := bus.Subscribe(nil)
	unsubscribe()
	if bus.Subscribers() != 0 {
		t.Error("Nil handler must not be registered")
	}
	bus.Publish("nobody listens")
}

func TestEventBus_PanicIsolation(t *testing.T) {
	var logs bytes.Buffer
	bus := NewEventBus(slog.New(slog.NewTextHandler(&logs, nil)))

	var delivered bool
	bus.Subscribe(func(interface{}) { panic("handler failure") })
	bus.Subscribe(func(interface{}) { delivered = true })

	bus.Publish("event")

	if !delivered {
		t.Error("Handler after a panicking one must still receive the event")
	}
	if !strings.Contains(logs.String(), "event handler panic") {
		t.Errorf("Expected panic to be logged, got %q", logs.String())
	}
}

func TestEventBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewEventBus(nil)

	var late int
	bus.Subscribe(func(interface{}) {
		bus.Subscribe(func(interface{}) { late++ })
	})

	bus.Publish("first")
	if late != 0 {
		t.Error("Handlers subscribed during a publication must not receive that event")
	}
	bus.Publish("second")
	if late != 1 {
		t.Errorf("Expected late handler to receive the second event once, got %d", late)
	}
}

func TestAuditLogger_AsBusSubscriber(t *testing.T) {
	auditFile := t.TempDir() + "/changes.jsonl"
	audit, err := NewAuditLogger(AuditConfig{Enabled: true, OutputFile: auditFile, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer func() { _ = audit.Close() }()

	bus := NewEventBus(nil)
	bus.Subscribe(audit.Handler())

	bean := &scenarioBean{Retry: retrySettings{Max: 3}}
	bc := newInitializedContext(t, bean, "app", WithEventPublisher(bus))
	if err := bc.SetPropertyValue("app.retry.max", 5); err != nil {
		t.Fatalf("SetPropertyValue failed: %v", err)
	}

	events, err := audit.Query(AuditQuery{Event: AuditEventPropertyChange})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 property change, got %d", len(events))
	}
	e := events[0]
	if e.Component != "app" || e.Key != "app.retry.max" || e.PropertyPath != "retry.max" {
		t.Errorf("Unexpected audit event: %+v", e)
	}
	if !VerifyChecksum(e) {
		t.Error("Checksum should verify after a JSONL round trip")
	}
}
