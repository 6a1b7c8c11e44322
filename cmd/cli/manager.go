// Package cli provides the command-line interface for propbind.
//
// The CLI inspects configuration files the way a Binder sees them: keys are
// shown in canonical dashed form, lookups are relaxed (maxRetries, max_retries
// and max-retries are the same key) and diffs list exactly the keys whose
// values would fire a change notification.
//
// Architecture:
// - Manager: command setup and routing on top of Orpheus
// - Handlers: one method per command
// - Utils: file loading, flattening and duration parsing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/propbind"
)

// Version is the CLI version reported by info.
const Version = "1.0.0"

// Manager wires the propbind commands into an Orpheus application.
type Manager struct {
	app         *orpheus.App
	auditLogger *propbind.AuditLogger // Optional audit integration
	out         io.Writer
}

// NewManager creates a CLI manager writing to stdout.
func NewManager() *Manager {
	manager := &Manager{out: os.Stdout}
	manager.buildApp()
	return manager
}

// buildApp creates the Orpheus application with all commands registered.
// Parsed flag values live on the commands, so every Run starts from a fresh app.
func (m *Manager) buildApp() {
	m.app = orpheus.New("propbind").
		SetDescription("Inspect, diff and watch bindable configuration").
		SetVersion(Version)

	m.setupConfigCommands()
	m.setupWatchCommands()
	m.setupUtilityCommands()
}

// WithAudit records CLI operations in auditLogger and makes it the default
// store for the audit commands.
func (m *Manager) WithAudit(auditLogger *propbind.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// WithOutput redirects command output.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	if w != nil {
		m.out = w
	}
	return m
}

// Run executes the CLI application with the provided arguments (without the
// program name).
func (m *Manager) Run(args []string) error {
	m.buildApp()
	return m.app.Run(args)
}

// setupConfigCommands registers the file inspection commands.
func (m *Manager) setupConfigCommands() {
	// keys <file> [--prefix=] [--format=auto]
	keysCmd := orpheus.NewCommand("keys", "List canonical configuration keys with their values").
		AddFlag("prefix", "p", "", "Only keys under this prefix").
		AddFlag("format", "f", "auto", "File format (auto|json|yaml|ini|properties)").
		SetHandler(m.handleKeys)
	m.app.AddCommand(keysCmd)

	// get <file> <key> [--format=auto]
	getCmd := orpheus.NewCommand("get", "Get a configuration value by relaxed key").
		AddFlag("format", "f", "auto", "File format (auto|json|yaml|ini|properties)").
		SetHandler(m.handleGet)
	m.app.AddCommand(getCmd)

	// diff <old> <new> [--prefix=]
	diffCmd := orpheus.NewCommand("diff", "Show keys whose values differ between two files").
		AddFlag("prefix", "p", "", "Only keys under this prefix").
		SetHandler(m.handleDiff)
	m.app.AddCommand(diffCmd)

	// validate <file> [--format=auto]
	validateCmd := orpheus.NewCommand("validate", "Validate configuration file syntax and keys").
		AddFlag("format", "f", "auto", "File format (auto|json|yaml|ini|properties)").
		SetHandler(m.handleValidate)
	m.app.AddCommand(validateCmd)
}

// setupWatchCommands registers the watch command.
func (m *Manager) setupWatchCommands() {
	// watch <file> [--interval=1s] [--duration=0] [--audit=]
	watchCmd := orpheus.NewCommand("watch", "Print key changes as the file is edited")
	watchCmd.SetHandler(m.handleWatch)
	watchCmd.AddFlag("interval", "i", "1s", "Polling interval")
	watchCmd.AddFlag("duration", "d", "0", "Stop after this long (0 = until interrupted)")
	watchCmd.AddFlag("audit", "a", "", "Record file changes in this audit store (.db or .jsonl)")
	watchCmd.AddBoolFlag("verbose", "v", false, "Also print unchanged reloads")
	m.app.AddCommand(watchCmd)
}

// setupUtilityCommands registers audit and info commands.
func (m *Manager) setupUtilityCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail management")

	queryCmd := auditCmd.Subcommand("query", "Query the audit trail", m.handleAuditQuery)
	queryCmd.AddFlag("store", "s", "", "Audit store (.db or .jsonl); default: shared SQLite database")
	queryCmd.AddFlag("since", "", "24h", "Time range (e.g., 24h, 7d, 2w)")
	queryCmd.AddFlag("event", "e", "", "Event type filter")
	queryCmd.AddFlag("component", "c", "", "Component (configuration prefix) filter")
	queryCmd.AddFlag("key", "k", "", "Configuration key filter")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")

	statsCmd := auditCmd.Subcommand("stats", "Show audit trail statistics", m.handleAuditStats)
	statsCmd.AddFlag("store", "s", "", "Audit store (.db or .jsonl); default: shared SQLite database")

	cleanupCmd := auditCmd.Subcommand("cleanup", "Delete old audit entries", m.handleAuditCleanup)
	cleanupCmd.AddFlag("store", "s", "", "Audit store (.db or .jsonl); default: shared SQLite database")
	cleanupCmd.AddFlag("older-than", "o", "30d", "Delete entries older than")
	cleanupCmd.AddBoolFlag("dry-run", "n", false, "Show what would be deleted")

	m.app.AddCommand(auditCmd)

	infoCmd := orpheus.NewCommand("info", "System information")
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Verbose information")
	m.app.AddCommand(infoCmd)
}
