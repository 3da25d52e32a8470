/*
Package sqlite provides a SQLite-backed implementation of procurement.Ledger.

PURPOSE:
  Stores every record as a versioned JSON envelope in one table, with an
  append-only history table next to it. It implements BatchLedger, so
  multi-record commits run in a single SQL transaction and the engine
  never needs its compensating saga against this store.

COMPARE-AND-SET:
  ExpectedVersion 0  → INSERT; a primary-key conflict is ErrStaleState
  ExpectedVersion n  → UPDATE ... WHERE version = n; zero rows is ErrStaleState

KEY TABLES:
  records:        Current envelope per (kind, id), tombstones included
  record_history: Every version ever written, never updated or deleted

INDEXES:
  - idx_records_kind: listings in creation order (rowid)
  Label filters use json_extract on labels_json.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  ledger, err := sqlite.New("./data/procurement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer ledger.Close()

  eng := procurement.NewEngine(ledger, logger)

SEE ALSO:
  - procurement/ledger.go:       Interface definitions
  - procurement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/fuel-procurement/procurement"
)

// Store implements procurement.BatchLedger using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
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

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		labels_json TEXT NOT NULL,
		tombstone BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind
		ON records(kind, tombstone);

	-- Append-only: one row per successful submission
	CREATE TABLE IF NOT EXISTS record_history (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		tombstone BOOLEAN NOT NULL DEFAULT FALSE,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (kind, id, version)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (procurement.Ledger interface)
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Read returns the live envelope of a record.
func (s *Store) Read(ctx context.Context, kind procurement.Kind, id string) (procurement.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT kind, id, version, data, labels_json, tombstone, updated_at
		FROM records
		WHERE kind = ? AND id = ? AND tombstone = FALSE
	`, kind, id)

	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s", procurement.ErrNotFound, kind, id)
	}
	if err != nil {
		return procurement.Envelope{}, fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}
	return env, nil
}

// Submit applies one compare-and-set write.
func (s *Store) Submit(ctx context.Context, sub procurement.Submission) (procurement.Envelope, error) {
	envs, err := s.SubmitAll(ctx, []procurement.Submission{sub})
	if err != nil {
		return procurement.Envelope{}, err
	}
	return envs[0], nil
}

// SubmitAll applies every submission in one SQL transaction.
func (s *Store) SubmitAll(ctx context.Context, subs []procurement.Submission) ([]procurement.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	out := make([]procurement.Envelope, 0, len(subs))
	for _, sub := range subs {
		env, err := s.apply(ctx, sqlTx, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return out, nil
}

func (s *Store) apply(ctx context.Context, q queryer, sub procurement.Submission) (procurement.Envelope, error) {
	if sub.Kind == "" || sub.ID == "" {
		return procurement.Envelope{}, fmt.Errorf("%w: kind and id are required", procurement.ErrValidationRejected)
	}
	if !sub.Tombstone && !json.Valid(sub.Data) {
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s: body is not valid JSON", procurement.ErrValidationRejected, sub.Kind, sub.ID)
	}
	labels := sub.Labels
	if labels == nil {
		labels = procurement.Labels{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return procurement.Envelope{}, fmt.Errorf("%w: labels: %v", procurement.ErrValidationRejected, err)
	}

	now := s.now().UTC()
	env := procurement.Envelope{
		Kind:      sub.Kind,
		ID:        sub.ID,
		Version:   sub.ExpectedVersion + 1,
		Data:      append(json.RawMessage(nil), sub.Data...),
		Labels:    labels,
		Tombstone: sub.Tombstone,
		UpdatedAt: now.Unix(),
	}
	data := string(sub.Data)
	if data == "" {
		data = "null"
	}

	if sub.ExpectedVersion == 0 {
		_, err = q.ExecContext(ctx, `
			INSERT INTO records (kind, id, version, data, labels_json, tombstone, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sub.Kind, sub.ID, env.Version, data, string(labelsJSON), sub.Tombstone, now.Format(time.RFC3339))
		if isUniqueConstraintError(err) {
			return procurement.Envelope{}, fmt.Errorf("%w: %s %s already exists", procurement.ErrStaleState, sub.Kind, sub.ID)
		}
		if err != nil {
			return procurement.Envelope{}, fmt.Errorf("failed to insert %s %s: %w", sub.Kind, sub.ID, err)
		}
	} else {
		res, err := q.ExecContext(ctx, `
			UPDATE records
			SET version = ?, data = ?, labels_json = ?, tombstone = ?, updated_at = ?
			WHERE kind = ? AND id = ? AND version = ? AND tombstone = FALSE
		`, env.Version, data, string(labelsJSON), sub.Tombstone, now.Format(time.RFC3339),
			sub.Kind, sub.ID, sub.ExpectedVersion)
		if err != nil {
			return procurement.Envelope{}, fmt.Errorf("failed to update %s %s: %w", sub.Kind, sub.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return procurement.Envelope{}, fmt.Errorf("failed to update %s %s: %w", sub.Kind, sub.ID, err)
		}
		if n == 0 {
			return procurement.Envelope{}, s.conflict(ctx, q, sub)
		}
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO record_history (kind, id, version, data, tombstone, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sub.Kind, sub.ID, env.Version, data, sub.Tombstone, now.Format(time.RFC3339)); err != nil {
		return procurement.Envelope{}, fmt.Errorf("failed to record history of %s %s: %w", sub.Kind, sub.ID, err)
	}
	return env, nil
}

// conflict explains why a compare-and-set update matched no row.
func (s *Store) conflict(ctx context.Context, q queryer, sub procurement.Submission) error {
	var version int64
	var tombstone bool
	err := q.QueryRowContext(ctx,
		"SELECT version, tombstone FROM records WHERE kind = ? AND id = ?",
		sub.Kind, sub.ID,
	).Scan(&version, &tombstone)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", procurement.ErrNotFound, sub.Kind, sub.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s %s: %w", sub.Kind, sub.ID, err)
	}
	return fmt.Errorf("%w: %s %s at version %d, expected %d",
		procurement.ErrStaleState, sub.Kind, sub.ID, version, sub.ExpectedVersion)
}

// List returns live records of kind matching filter, in creation order.
// A limit of zero or less returns everything after offset.
func (s *Store) List(ctx context.Context, kind procurement.Kind, filter procurement.Filter, offset, limit int) ([]procurement.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.WriteString(`
		SELECT kind, id, version, data, labels_json, tombstone, updated_at
		FROM records
		WHERE kind = ? AND tombstone = FALSE`)
	args := []any{kind}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" AND json_extract(labels_json, ?) = ?")
		args = append(args, `$."`+k+`"`, filter[k])
	}

	b.WriteString(" ORDER BY rowid ASC")
	if limit <= 0 {
		limit = -1
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, max(offset, 0))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []procurement.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// =============================================================================
// HISTORY
// =============================================================================

// Revision is one historical version of a record.
type Revision struct {
	Version    int64
	Data       json.RawMessage
	Tombstone  bool
	RecordedAt time.Time
}

// History returns every version of a record, oldest first. Tombstoned
// records keep their history.
func (s *Store) History(ctx context.Context, kind procurement.Kind, id string) ([]Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, data, tombstone, recorded_at
		FROM record_history
		WHERE kind = ? AND id = ?
		ORDER BY version ASC
	`, kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var data, recordedAt string
		if err := rows.Scan(&r.Version, &data, &r.Tombstone, &recordedAt); err != nil {
			return nil, err
		}
		r.Data = json.RawMessage(data)
		r.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"records", "record_history"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row scanner) (procurement.Envelope, error) {
	var env procurement.Envelope
	var kind, data, labelsJSON, updatedAt string
	if err := row.Scan(&kind, &env.ID, &env.Version, &data, &labelsJSON, &env.Tombstone, &updatedAt); err != nil {
		return procurement.Envelope{}, err
	}
	env.Kind = procurement.Kind(kind)
	env.Data = json.RawMessage(data)
	if err := json.Unmarshal([]byte(labelsJSON), &env.Labels); err != nil {
		return procurement.Envelope{}, fmt.Errorf("labels of %s %s: %w", kind, env.ID, err)
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		env.UpdatedAt = t.Unix()
	}
	return env, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
