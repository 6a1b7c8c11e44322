// audit_backend.go: Storage backends for the propbind audit trail
//
// Two backends implement the same contract: SQLite (default, queryable, WAL mode)
// and JSONL (one JSON object per line, selected by a .jsonl output file).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend is the storage contract shared by all audit backends.
type auditBackend interface {
	// Write persists a batch of audit events.
	Write(events []AuditEvent) error

	// Flush ensures all pending writes are committed to storage.
	Flush() error

	// Close releases all resources. The backend must not be used afterwards.
	Close() error

	// Query returns matching events, newest first.
	Query(q AuditQuery) ([]AuditEvent, error)

	// Cleanup deletes events recorded before cutoff.
	Cleanup(cutoff time.Time) (int64, error)

	// GetStats returns statistics about stored events.
	GetStats() (*AuditDatabaseStats, error)
}

// auditTimeFormat is fixed-width UTC so that stored timestamps sort lexically.
const auditTimeFormat = "2006-01-02T15:04:05.000000000Z"

func formatAuditTime(t time.Time) string {
	return t.UTC().Format(auditTimeFormat)
}

// createAuditBackend selects the backend from the output file extension:
// .jsonl selects JSONL, anything else SQLite. If SQLite cannot be opened and an
// output file is configured, JSONL is used as a fallback.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config)
	}

	backend, err := newSQLiteBackend(config)
	if err == nil {
		return backend, nil
	}
	if config.OutputFile == "" || filepath.Ext(config.OutputFile) == ".db" {
		return nil, err
	}

	jsonlBackend, jsonlErr := newJSONLBackend(config)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}
	return jsonlBackend, nil
}

// getUnifiedAuditPath returns the shared SQLite audit database path.
func getUnifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "propbind", "system-audit.db")
}

// AuditDatabaseStats represents statistics about stored audit events.
type AuditDatabaseStats struct {
	TotalEvents       int64            `json:"total_events"`
	EventsByLevel     map[string]int64 `json:"events_by_level"`
	EventsByComponent map[string]int64 `json:"events_by_component"`
	OldestEvent       *time.Time       `json:"oldest_event"`
	NewestEvent       *time.Time       `json:"newest_event"`
	DatabaseSize      int64            `json:"database_size_bytes"`
	SchemaVersion     int              `json:"schema_version"`
}

func newAuditStats() *AuditDatabaseStats {
	return &AuditDatabaseStats{
		EventsByLevel:     make(map[string]int64),
		EventsByComponent: make(map[string]int64),
	}
}

// sqliteAuditBackend stores audit events in a SQLite database.
type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath := getUnifiedAuditPath()
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".db" {
		dbPath = config.OutputFile
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := openSQLiteDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	backend := &sqliteAuditBackend{db: db, dbPath: dbPath}
	if err := backend.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit database schema: %w", err)
	}

	stmt, err := db.Prepare(`
	INSERT INTO audit_events (
		timestamp, level, event, component,
		config_key, property_path, origin,
		old_value, new_value,
		process_id, process_name, context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare audit insert statement: %w", err)
	}
	backend.insertStmt = stmt

	return backend, nil
}

// openSQLiteDatabase opens the database in WAL mode with a busy timeout so that
// several processes can share the audit file.
func openSQLiteDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return db, nil
}

const currentSchemaVersion = 2

// ensureSchemaVersion creates or migrates the schema inside one transaction.
func (s *sqliteAuditBackend) ensureSchemaVersion() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	for v := version; v < currentSchemaVersion; v++ {
		var stmts []string
		switch v {
		case 0:
			stmts = schemaV1
		case 1:
			stmts = schemaV2
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration to v%d failed: %w", v+1, err)
			}
		}
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)", currentSchemaVersion); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		event TEXT NOT NULL,
		component TEXT NOT NULL,
		config_key TEXT,
		property_path TEXT,
		origin TEXT,
		old_value TEXT,
		new_value TEXT,
		process_id INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		context TEXT,
		checksum TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)",
	"CREATE INDEX IF NOT EXISTS idx_audit_level ON audit_events(level)",
	"CREATE INDEX IF NOT EXISTS idx_audit_component ON audit_events(component)",
}

var schemaV2 = []string{
	"CREATE INDEX IF NOT EXISTS idx_audit_key_time ON audit_events(config_key, timestamp)",
	"CREATE INDEX IF NOT EXISTS idx_audit_event_component ON audit_events(event, component, timestamp)",
}

func (s *sqliteAuditBackend) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Write inserts a batch of events in one transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) (err error) {
	if s.isClosed() {
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txStmt := tx.Stmt(s.insertStmt)
	defer txStmt.Close()

	for _, event := range events {
		if err = s.insertEvent(txStmt, event); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) insertEvent(stmt *sql.Stmt, event AuditEvent) error {
	oldValue, err := marshalAuditValue(event.OldValue)
	if err != nil {
		return fmt.Errorf("failed to serialize old_value: %w", err)
	}
	newValue, err := marshalAuditValue(event.NewValue)
	if err != nil {
		return fmt.Errorf("failed to serialize new_value: %w", err)
	}
	context, err := marshalAuditValue(event.Context)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	_, err = stmt.Exec(
		formatAuditTime(event.Timestamp),
		event.Level.String(),
		event.Event,
		event.Component,
		event.Key,
		event.PropertyPath,
		event.Origin,
		oldValue,
		newValue,
		event.ProcessID,
		event.ProcessName,
		context,
		event.Checksum,
	)
	return err
}

func marshalAuditValue(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	if m, ok := v.(map[string]interface{}); ok && m == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalAuditValue(s string) interface{} {
	if s == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// Query returns matching events, newest first.
func (s *sqliteAuditBackend) Query(q AuditQuery) ([]AuditEvent, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("cannot query closed SQLite audit backend")
	}

	var (
		where []string
		args  []interface{}
	)
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatAuditTime(q.Since))
	}
	if q.Event != "" {
		where = append(where, "event = ?")
		args = append(args, q.Event)
	}
	if q.Component != "" {
		where = append(where, "component = ?")
		args = append(args, q.Component)
	}
	if q.Key != "" {
		where = append(where, "config_key = ?")
		args = append(args, q.Key)
	}

	query := `SELECT timestamp, level, event, component,
		COALESCE(config_key, ''), COALESCE(property_path, ''), COALESCE(origin, ''),
		COALESCE(old_value, ''), COALESCE(new_value, ''),
		process_id, process_name, COALESCE(context, ''), COALESCE(checksum, '')
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event                       AuditEvent
			ts, level                   string
			oldValue, newValue, context string
		)
		if err := rows.Scan(&ts, &level, &event.Event, &event.Component,
			&event.Key, &event.PropertyPath, &event.Origin,
			&oldValue, &newValue,
			&event.ProcessID, &event.ProcessName, &context, &event.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp, _ = time.Parse(auditTimeFormat, ts)
		event.Level = auditLevelFromString(level)
		event.OldValue = unmarshalAuditValue(oldValue)
		event.NewValue = unmarshalAuditValue(newValue)
		if ctx, ok := unmarshalAuditValue(context).(map[string]interface{}); ok {
			event.Context = ctx
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Cleanup deletes events recorded before cutoff.
func (s *sqliteAuditBackend) Cleanup(cutoff time.Time) (int64, error) {
	if s.isClosed() {
		return 0, fmt.Errorf("cannot clean closed SQLite audit backend")
	}
	result, err := s.db.Exec("DELETE FROM audit_events WHERE timestamp < ?", formatAuditTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit events: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	_, _ = s.db.Exec("PRAGMA optimize")
	return removed, nil
}

// GetStats returns event counts, time range, file size and schema version.
func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("cannot read stats of closed SQLite audit backend")
	}
	stats := newAuditStats()

	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to get total events count: %w", err)
	}
	if err := s.countBy("level", stats.EventsByLevel); err != nil {
		return nil, err
	}
	if err := s.countBy("component", stats.EventsByComponent); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullString
	if err := s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM audit_events").Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to get event time range: %w", err)
	}
	if t, err := time.Parse(auditTimeFormat, oldest.String); oldest.Valid && err == nil {
		stats.OldestEvent = &t
	}
	if t, err := time.Parse(auditTimeFormat, newest.String); newest.Valid && err == nil {
		stats.NewestEvent = &t
	}

	if err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&stats.SchemaVersion); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// countBy fills counts with COUNT(*) grouped by column. column is never user input.
func (s *sqliteAuditBackend) countBy(column string, counts map[string]int64) error {
	rows, err := s.db.Query("SELECT " + column + ", COUNT(*) FROM audit_events GROUP BY " + column)
	if err != nil {
		return fmt.Errorf("failed to get events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return fmt.Errorf("failed to scan %s stats: %w", column, err)
		}
		counts[name] = count
	}
	return rows.Err()
}

// Flush checkpoints the WAL.
func (s *sqliteAuditBackend) Flush() error {
	if s.isClosed() {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to flush SQLite audit backend: %w", err)
	}
	return nil
}

// Close checkpoints and closes the database. Safe to call more than once.
func (s *sqliteAuditBackend) Close() error {
	if s.isClosed() {
		return nil
	}
	flushErr := s.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []string
	if flushErr != nil {
		errs = append(errs, flushErr.Error())
	}
	if s.insertStmt != nil {
		if err := s.insertStmt.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing SQLite audit backend: %s", strings.Join(errs, "; "))
	}
	return nil
}

// jsonlAuditBackend appends audit events to a JSON Lines file.
type jsonlAuditBackend struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool
}

func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	if config.OutputFile == "" {
		return nil, fmt.Errorf("JSONL backend requires OutputFile to be specified")
	}
	if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0750); err != nil {
		return nil, fmt.Errorf("failed to create JSONL audit log directory: %w", err)
	}
	file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log file: %w", err)
	}
	return &jsonlAuditBackend{file: file, path: config.OutputFile}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}

	w := bufio.NewWriter(j.file)
	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to write audit event to JSONL: %w", err)
		}
	}
	return w.Flush()
}

func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	return j.file.Sync()
}

// readAll decodes every event in the file. Undecodable lines are skipped.
func (j *jsonlAuditBackend) readAll() ([]AuditEvent, error) {
	file, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log: %w", err)
	}
	defer file.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func (j *jsonlAuditBackend) Query(q AuditQuery) ([]AuditEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	var out []AuditEvent
	for _, e := range all {
		if (!q.Since.IsZero() && e.Timestamp.Before(q.Since)) ||
			(q.Event != "" && e.Event != q.Event) ||
			(q.Component != "" && e.Component != q.Component) ||
			(q.Key != "" && e.Key != q.Key) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.After(out[b].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Cleanup rewrites the file without the expired events.
func (j *jsonlAuditBackend) Cleanup(cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, fmt.Errorf("cannot clean closed JSONL audit backend")
	}

	all, err := j.readAll()
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	for _, e := range all {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(all) - len(kept))
	if removed == 0 {
		return 0, nil
	}

	tmp := j.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite JSONL audit log: %w", err)
	}
	enc := json.NewEncoder(out)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			_ = out.Close()
			return 0, err
		}
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	_ = j.file.Close()
	if err := os.Rename(tmp, j.path); err != nil {
		return 0, fmt.Errorf("failed to replace JSONL audit log: %w", err)
	}
	j.file, err = os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		j.closed = true
		return removed, fmt.Errorf("failed to reopen JSONL audit log: %w", err)
	}
	return removed, nil
}

func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := newAuditStats()
	stats.SchemaVersion = 1
	if info, err := os.Stat(j.path); err == nil {
		stats.DatabaseSize = info.Size()
	}

	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	for i := range all {
		e := &all[i]
		stats.TotalEvents++
		stats.EventsByLevel[e.Level.String()]++
		stats.EventsByComponent[e.Component]++
		if stats.OldestEvent == nil || e.Timestamp.Before(*stats.OldestEvent) {
			stats.OldestEvent = &e.Timestamp
		}
		if stats.NewestEvent == nil || e.Timestamp.After(*stats.NewestEvent) {
			stats.NewestEvent = &e.Timestamp
		}
	}
	return stats, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

func auditLevelFromString(s string) AuditLevel {
	switch s {
	case "WARN":
		return AuditWarn
	case "CRITICAL":
		return AuditCritical
	case "SECURITY":
		return AuditSecurity
	default:
		return AuditInfo
	}
}
