/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements fieldreport.TxStore and fieldreport.SyncLog using SQLite, so the
  local report state survives restarts of the device or server.

INTERFACES IMPLEMENTED:
  fieldreport.Store:   The four-record local state
  fieldreport.TxStore: Atomic multi-record writes
  fieldreport.SyncLog: Remote sync attempts

KEY TABLES:
  reports:   The report collection. position keeps insertion order.
  records:   Named scalar records (profile, counter_number, counter_year)
  sync_runs: Append-only log of remote sync attempts

INDEXES:
  - idx_reports_unique_synced: Enforces one synced report per (year, id)
  - idx_sync_runs_started: Most-recent-first run listing

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases consistent across calls.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/reports.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lifecycle := fieldreport.NewLifecycle(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - fieldreport/store.go: Interface definitions
  - fieldreport/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	_ "github.com/mattn/go-sqlite3"
)

// Record names in the records table.
const (
	recordProfile       = "profile"
	recordCounterNumber = "counter_number"
	recordCounterYear   = "counter_year"
)

// runTimeLayout is fixed-width so started_at sorts as text.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Report collection (drafts and synced)
	CREATE TABLE IF NOT EXISTS reports (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		report_key TEXT,
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		payload_json TEXT NOT NULL
	);

	-- CRITICAL: a synced identifier is unique within its numbering year
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_unique_synced
		ON reports(year, id)
		WHERE status = 'synced';

	CREATE INDEX IF NOT EXISTS idx_reports_status
		ON reports(status);

	-- Named records: profile, counter_number, counter_year
	CREATE TABLE IF NOT EXISTS records (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Sync runs (remote import attempts)
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL,
		status TEXT NOT NULL,
		raised BOOLEAN DEFAULT FALSE,
		number INTEGER DEFAULT 0,
		imported INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started
		ON sync_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REPORT COLLECTION (fieldreport.Store interface)
// =============================================================================

// LoadReports returns the report collection in insertion order.
func (s *Store) LoadReports(ctx context.Context) ([]fieldreport.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadReports(ctx, s.db)
}

// SaveReports replaces the report collection atomically.
func (s *Store) SaveReports(ctx context.Context, reports []fieldreport.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := saveReports(ctx, sqlTx, reports); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func loadReports(ctx context.Context, db dbtx) ([]fieldreport.Report, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, report_key, status, timestamp, year, payload_json
		FROM reports
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []fieldreport.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(rows *sql.Rows) (fieldreport.Report, error) {
	var (
		r           fieldreport.Report
		key         sql.NullString
		status      string
		payloadJSON string
	)
	if err := rows.Scan(&r.ID, &key, &status, &r.Timestamp, &r.Year, &payloadJSON); err != nil {
		return r, fmt.Errorf("failed to scan report: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &r.Payload); err != nil {
		return r, fmt.Errorf("failed to decode report %s: %w", r.ID, err)
	}
	r.Key = key.String
	r.Status = fieldreport.Status(status)
	return r, nil
}

// saveReports must run inside a transaction.
func saveReports(ctx context.Context, db dbtx, reports []fieldreport.Report) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM reports"); err != nil {
		return fmt.Errorf("failed to clear reports: %w", err)
	}

	query := `
		INSERT INTO reports (position, id, report_key, status, timestamp, year, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i, r := range reports {
		payloadJSON, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode report %s: %w", r.ID, err)
		}
		_, err = db.ExecContext(ctx, query,
			i, r.ID, nullString(r.Key), string(r.Status), r.Timestamp, r.Year, string(payloadJSON))
		if err != nil {
			if isUniqueConstraintError(err) {
				return &fieldreport.DuplicateIDError{ID: r.ID, Year: r.Year}
			}
			return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
		}
	}
	return nil
}

// =============================================================================
// NAMED RECORDS (profile, counter)
// =============================================================================

func (s *Store) LoadProfile(ctx context.Context) (fieldreport.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadProfile(ctx, s.db)
}

func (s *Store) SaveProfile(ctx context.Context, p fieldreport.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProfile(ctx, s.db, p)
}

func (s *Store) LoadCounterNumber(ctx context.Context) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadInt(ctx, s.db, recordCounterNumber)
}

func (s *Store) SaveCounterNumber(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRecord(ctx, s.db, recordCounterNumber, strconv.Itoa(n))
}

func (s *Store) LoadCounterYear(ctx context.Context) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadInt(ctx, s.db, recordCounterYear)
}

func (s *Store) SaveCounterYear(ctx context.Context, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRecord(ctx, s.db, recordCounterYear, strconv.Itoa(year))
}

// Clear removes reports, profile and counter. The sync log is kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := clearState(ctx, sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func clearState(ctx context.Context, db dbtx) error {
	for _, table := range []string{"reports", "records"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func loadRecord(ctx context.Context, db dbtx, name string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM records WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load record %s: %w", name, err)
	}
	return value, true, nil
}

func saveRecord(ctx context.Context, db dbtx, name, value string) error {
	query := `
		INSERT INTO records (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query, name, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", name, err)
	}
	return nil
}

func loadInt(ctx context.Context, db dbtx, name string) (int, bool, error) {
	value, ok, err := loadRecord(ctx, db, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("record %s is not a number: %w", name, err)
	}
	return n, true, nil
}

func loadProfile(ctx context.Context, db dbtx) (fieldreport.Profile, bool, error) {
	var p fieldreport.Profile
	value, ok, err := loadRecord(ctx, db, recordProfile)
	if err != nil || !ok {
		return p, ok, err
	}
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return p, false, fmt.Errorf("failed to decode profile: %w", err)
	}
	return p, true, nil
}

func saveProfile(ctx context.Context, db dbtx, p fieldreport.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return saveRecord(ctx, db, recordProfile, string(data))
}

// =============================================================================
// TRANSACTIONAL STORE (fieldreport.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store fieldreport.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) LoadReports(ctx context.Context) ([]fieldreport.Report, error) {
	return loadReports(ctx, ts.tx)
}

func (ts *txStore) SaveReports(ctx context.Context, reports []fieldreport.Report) error {
	return saveReports(ctx, ts.tx, reports)
}

func (ts *txStore) LoadProfile(ctx context.Context) (fieldreport.Profile, bool, error) {
	return loadProfile(ctx, ts.tx)
}

func (ts *txStore) SaveProfile(ctx context.Context, p fieldreport.Profile) error {
	return saveProfile(ctx, ts.tx, p)
}

func (ts *txStore) LoadCounterNumber(ctx context.Context) (int, bool, error) {
	return loadInt(ctx, ts.tx, recordCounterNumber)
}

func (ts *txStore) SaveCounterNumber(ctx context.Context, n int) error {
	return saveRecord(ctx, ts.tx, recordCounterNumber, strconv.Itoa(n))
}

func (ts *txStore) LoadCounterYear(ctx context.Context) (int, bool, error) {
	return loadInt(ctx, ts.tx, recordCounterYear)
}

func (ts *txStore) SaveCounterYear(ctx context.Context, year int) error {
	return saveRecord(ctx, ts.tx, recordCounterYear, strconv.Itoa(year))
}

func (ts *txStore) Clear(ctx context.Context) error {
	return clearState(ctx, ts.tx)
}

// =============================================================================
// SYNC LOG (fieldreport.SyncLog interface)
// =============================================================================

// AppendSyncRun records a sync attempt.
func (s *Store) AppendSyncRun(ctx context.Context, run fieldreport.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sync_runs
		(id, trigger_source, status, raised, number, imported, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var completedAt sql.NullString
	if !run.CompletedAt.IsZero() {
		completedAt = nullString(run.CompletedAt.UTC().Format(runTimeLayout))
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Trigger, string(run.Status), run.Raised, run.Number, run.Imported,
		nullString(run.Error), run.StartedAt.UTC().Format(runTimeLayout), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns sync runs, most recent first.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]fieldreport.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trigger_source, status, raised, number, imported, error, started_at, completed_at
		FROM sync_runs
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []fieldreport.SyncRun
	for rows.Next() {
		var (
			run         fieldreport.SyncRun
			status      string
			errText     sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &status, &run.Raised, &run.Number,
			&run.Imported, &errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.Status = fieldreport.SyncStatus(status)
		run.Error = errText.String
		if run.StartedAt, err = time.Parse(runTimeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at of sync run %s: %w", run.ID, err)
		}
		if completedAt.Valid {
			if run.CompletedAt, err = time.Parse(runTimeLayout, completedAt.String); err != nil {
				return nil, fmt.Errorf("failed to parse completed_at of sync run %s: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
