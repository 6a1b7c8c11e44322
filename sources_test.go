// sources_test.go: Tests for map, environment, file and flag property sources
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// writeConfigFile writes content to name inside a fresh temp directory.
func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func lookupValue(t *testing.T, source PropertySource, key string) (interface{}, bool) {
	t.Helper()
	property, ok := source.Lookup(MustPropertyName(key))
	return property.Value, ok
}

func TestMapSource(t *testing.T) {
	source, err := NewMapSource("defaults", map[string]interface{}{
		"app": map[string]interface{}{
			"maxRetries": 3,
			"retry":      map[string]interface{}{"max_attempts": 5},
		},
		"db.host": "localhost",
	})
	if err != nil {
		t.Fatalf("NewMapSource failed: %v", err)
	}

	if v, ok := lookupValue(t, source, "app.max-retries"); !ok || v != 3 {
		t.Errorf("camelCase key: got %v, %v", v, ok)
	}
	if v, ok := lookupValue(t, source, "app.retry.max-attempts"); !ok || v != 5 {
		t.Errorf("snake_case key: got %v, %v", v, ok)
	}
	if v, ok := lookupValue(t, source, "db.host"); !ok || v != "localhost" {
		t.Errorf("flat dotted key: got %v, %v", v, ok)
	}
	if v, ok := lookupValue(t, source, "app.retry"); !ok || !reflect.DeepEqual(v, map[string]interface{}{"max_attempts": 5}) {
		t.Errorf("section lookup: got %v, %v", v, ok)
	}
	if _, ok := lookupValue(t, source, "app.missing"); ok {
		t.Error("Missing key should not be found")
	}

	property, _ := source.Lookup(MustPropertyName("db.host"))
	if property.Origin != "map:defaults" || source.Name() != "defaults" {
		t.Errorf("Unexpected origin %q / name %q", property.Origin, source.Name())
	}

	expected := []string{"app.max-retries", "app.retry.max-attempts", "db.host"}
	if !reflect.DeepEqual(source.Names(), expected) {
		t.Errorf("Expected names %v, got %v", expected, source.Names())
	}

	if err := source.Set(map[string]interface{}{"app.host": "example.com"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := lookupValue(t, source, "app.host"); v != "example.com" {
		t.Errorf("Set should replace content, got %v", v)
	}
	if _, ok := lookupValue(t, source, "app.max-retries"); ok {
		t.Error("Set should drop old keys")
	}
}

func TestEnvSource(t *testing.T) {
	env := map[string]string{
		"SVC_APP_MAXRETRIES": "7",
		"SVC_APP_HOST":       "env-host",
		"SVC_APP_RETRY_MAX":  "9",
	}
	source := &EnvSource{
		Prefix:     "SVC_",
		LookupFunc: func(key string) (string, bool) { v, ok := env[key]; return v, ok },
	}

	property, ok := source.Lookup(MustPropertyName("app.max-retries"))
	if !ok || property.Value != "7" || property.Origin != "env:SVC_APP_MAXRETRIES" {
		t.Errorf("Unexpected property: %+v", property)
	}
	if v, ok := lookupValue(t, source, "app.retry.max"); !ok || v != "9" {
		t.Errorf("Nested key: got %v, %v", v, ok)
	}
	if _, ok := lookupValue(t, source, "app.port"); ok {
		t.Error("Unset variable should not be found")
	}
	if _, ok := source.Lookup(ConfigurationPropertyName{}); ok {
		t.Error("Empty name should not be found")
	}

	// Legacy underscore form
	delete(env, "SVC_APP_MAXRETRIES")
	env["SVC_APP_MAX_RETRIES"] = "8"
	if v, ok := lookupValue(t, source, "app.max-retries"); !ok || v != "8" {
		t.Errorf("Legacy form: got %v, %v", v, ok)
	}
}

func TestEnvSource_ProcessEnvironment(t *testing.T) {
	t.Setenv("PBTEST_APP_PORT", "9090")
	source := NewEnvSource("PBTEST_")
	if source.Name() != "env" {
		t.Errorf("Unexpected name %q", source.Name())
	}
	if v, ok := lookupValue(t, source, "app.port"); !ok || v != "9090" {
		t.Errorf("Expected 9090, got %v, %v", v, ok)
	}
}

func TestFileSource_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		format  ConfigFormat
	}{
		{"json", "app.json", `{"app": {"host": "db.local", "maxRetries": 4, "retry": {"max": 2}}}`, FormatJSON},
		{"yaml", "app.yaml", "app:\n  host: db.local\n  max_retries: 4\n  retry:\n    max: 2\n", FormatYAML},
		{"yml", "app.yml", "app:\n  host: db.local\n  max-retries: 4\n  retry:\n    max: 2\n", FormatYAML},
		{"ini", "app.ini", "; comment\n[app]\nhost = \"db.local\"\nmaxRetries = 4\n\n[app.retry]\nmax = 2\n", FormatINI},
		{"properties", "app.properties", "# comment\n! other comment\napp.host=db.local\napp.max_retries: 4\napp.retry.max = 2\n", FormatProperties},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.file, tt.content)
			source, err := NewFileSource(path)
			if err != nil {
				t.Fatalf("NewFileSource failed: %v", err)
			}
			if source.Format() != tt.format || source.Path() != path || source.Name() != "file:"+path {
				t.Errorf("Unexpected metadata: %v %s %s", source.Format(), source.Path(), source.Name())
			}

			if v, ok := lookupValue(t, source, "app.host"); !ok || v != "db.local" {
				t.Errorf("host: got %v, %v", v, ok)
			}

			bean := &struct {
				Host       string
				MaxRetries int
				Retry      retrySettings
			}{}
			bc := newInitializedContext(t, bean, "app")
			binder := NewBinder(source)
			if err := binder.Register(bc); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if _, err := binder.Bind(t.Context()); err != nil {
				t.Fatalf("Bind failed: %v", err)
			}
			if bean.Host != "db.local" || bean.MaxRetries != 4 || bean.Retry.Max != 2 {
				t.Errorf("Unexpected bean: %+v", bean)
			}

			expected := []string{"app.host", "app.max-retries", "app.retry.max"}
			if !reflect.DeepEqual(source.Names(), expected) {
				t.Errorf("Expected names %v, got %v", expected, source.Names())
			}
		})
	}
}

func TestFileSource_Errors(t *testing.T) {
	t.Run("unknown_format", func(t *testing.T) {
		path := writeConfigFile(t, "app.toml", "a = 1")
		if _, err := NewFileSource(path); ErrorCode(err) != ErrCodeUnsupportedFormat {
			t.Errorf("Expected %s, got %v", ErrCodeUnsupportedFormat, err)
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.json")
		if _, err := NewFileSource(path); ErrorCode(err) != ErrCodeFileNotFound {
			t.Errorf("Expected %s, got %v", ErrCodeFileNotFound, err)
		}
	})

	invalid := map[string]string{
		"broken.json":       `{"app": `,
		"broken.yaml":       "app: [unclosed",
		"broken.ini":        "[app\nhost = x\n",
		"nokey.ini":         "[app]\njust a line\n",
		"empty.ini":         "[]\n",
		"spaced.ini":        "[app]\nmy key = x\n",
		"broken.properties": "app.host\n",
		"empty.properties":  "= value\n",
	}
	for name, content := range invalid {
		t.Run(name, func(t *testing.T) {
			path := writeConfigFile(t, name, content)
			if _, err := NewFileSource(path); ErrorCode(err) != ErrCodeSourceFailed {
				t.Errorf("Expected %s, got %v", ErrCodeSourceFailed, err)
			}
		})
	}
}

func TestFileSource_ReloadKeepsContentOnFailure(t *testing.T) {
	path := writeConfigFile(t, "app.json", `{"app": {"port": 8080}}`)
	source, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"app": {"port": 9090}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := source.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if v, _ := lookupValue(t, source, "app.port"); v != float64(9090) {
		t.Errorf("Expected reloaded port, got %v", v)
	}

	if err := os.WriteFile(path, []byte(`{"app": `), 0600); err != nil {
		t.Fatal(err)
	}
	if err := source.Reload(); ErrorCode(err) != ErrCodeSourceFailed {
		t.Errorf("Expected %s, got %v", ErrCodeSourceFailed, err)
	}
	if v, _ := lookupValue(t, source, "app.port"); v != float64(9090) {
		t.Errorf("Failed reload must keep previous content, got %v", v)
	}
}

func TestFileSource_EmptyFile(t *testing.T) {
	path := writeConfigFile(t, "empty.yaml", "\n")
	source, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("Empty file should load: %v", err)
	}
	if len(source.Names()) != 0 {
		t.Errorf("Expected no keys, got %v", source.Names())
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]ConfigFormat{
		"config.json":       FormatJSON,
		"config.YAML":       FormatYAML,
		"config.yml":        FormatYAML,
		"config.ini":        FormatINI,
		"config.cfg":        FormatINI,
		"config.conf":       FormatINI,
		"app.properties":    FormatProperties,
		"config.toml":       FormatUnknown,
		"config":            FormatUnknown,
		"/etc/app/app.json": FormatJSON,
	}
	for path, expected := range tests {
		if got := DetectFormat(path); got != expected {
			t.Errorf("DetectFormat(%q) = %v, expected %v", path, got, expected)
		}
	}

	if FormatJSON.String() != "JSON" || FormatProperties.String() != "Properties" || FormatUnknown.String() != "Unknown" {
		t.Error("Unexpected format names")
	}
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte("[server]\nport = 8080\ndebug = true\nratio = 0.5\n"), FormatINI)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	server, ok := config["server"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected nested server section, got %#v", config)
	}
	if server["port"] != 8080 || server["debug"] != true || server["ratio"] != 0.5 {
		t.Errorf("Unexpected values: %#v", server)
	}

	if _, err := ParseConfig([]byte("{}"), FormatUnknown); ErrorCode(err) != ErrCodeUnsupportedFormat {
		t.Errorf("Expected %s, got %v", ErrCodeUnsupportedFormat, err)
	}
}

func TestFlagSource(t *testing.T) {
	source, err := NewFlagSource("test", "host", "maxRetries", "max_retries", "")
	if err != nil {
		t.Fatalf("NewFlagSource failed: %v", err)
	}
	if !reflect.DeepEqual(source.Names(), []string{"host", "max-retries"}) {
		t.Errorf("Unexpected flag names: %v", source.Names())
	}

	if err := source.Parse([]string{"--max-retries", "6"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	property, ok := source.Lookup(MustPropertyName("max-retries"))
	if !ok || property.Value != "6" || property.Origin != "flag:--max-retries" {
		t.Errorf("Unexpected property: %+v, %v", property, ok)
	}
	if _, ok := lookupValue(t, source, "host"); ok {
		t.Error("Flag left empty should count as unset")
	}
	if _, ok := lookupValue(t, source, "port"); ok {
		t.Error("Undefined flag should not be found")
	}
	if source.Name() != "flags" {
		t.Errorf("Unexpected name %q", source.Name())
	}

	if _, err := NewFlagSource("test", "bad..key"); ErrorCode(err) != ErrCodeInvalidPropertyName {
		t.Errorf("Expected %s, got %v", ErrCodeInvalidPropertyName, err)
	}
}

func TestFlagSource_Errors(t *testing.T) {
	source, err := NewFlagSource("test", "host")
	if err != nil {
		t.Fatalf("NewFlagSource failed: %v", err)
	}
	if err := source.Parse([]string{"--unknown-flag", "x"}); ErrorCode(err) != ErrCodeSourceFailed {
		t.Errorf("Expected %s, got %v", ErrCodeSourceFailed, err)
	}
}

func TestFlagSource_ForContexts(t *testing.T) {
	type rootBean struct {
		Host string
		Port int
	}
	bean := &rootBean{}
	bc := newInitializedContext(t, bean, "")

	source, err := NewFlagSourceFor("svc", bc)
	if err != nil {
		t.Fatalf("NewFlagSourceFor failed: %v", err)
	}
	source.SetDescription("test service")
	if err := source.Parse([]string{"--port", "7070"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	binder := NewBinder(source)
	if err := binder.Register(bc); err != nil {
		t.Fatal(err)
	}
	report, err := binder.Bind(t.Context())
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if bean.Port != 7070 || report.Changed != 1 {
		t.Errorf("Unexpected result: port=%d report=%+v", bean.Port, report)
	}
}
