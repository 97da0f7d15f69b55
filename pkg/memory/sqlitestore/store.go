// Package sqlitestore is the default durable memory store, a single SQLite
// file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/otherjamesbrown/meetmem/pkg/memory"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS memory_records (
		id          TEXT PRIMARY KEY,
		document    TEXT NOT NULL,
		meeting_id  TEXT NOT NULL,
		section     TEXT NOT NULL,
		speaker     TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		embedding   TEXT NOT NULL
	)`,
	"CREATE INDEX IF NOT EXISTS idx_memory_records_meeting ON memory_records(meeting_id)",
	"CREATE INDEX IF NOT EXISTS idx_memory_records_speaker ON memory_records(speaker)",
}

const columns = "id, document, meeting_id, section, speaker, recorded_at, embedding"

// Store persists memory records in SQLite. Store order is rowid order; an
// upsert of an existing id keeps its row.
type Store struct {
	db   *sql.DB
	path string
}

var _ memory.Store = (*Store)(nil)

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Upsert implements memory.Store.
func (s *Store) Upsert(ctx context.Context, records []memory.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_records (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			meeting_id = excluded.meeting_id,
			section = excluded.section,
			speaker = excluded.speaker,
			recorded_at = excluded.recorded_at,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		vec, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Document, r.Metadata.MeetingID, string(r.Metadata.Section),
			r.Metadata.Speaker, r.Metadata.Timestamp, string(vec),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Query implements memory.Store by ranking every stored vector.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]memory.Record, error) {
	all, err := s.Where(ctx, memory.Filter{})
	if err != nil {
		return nil, err
	}
	return memory.Rank(all, vector, k), nil
}

// Where implements memory.Store.
func (s *Store) Where(ctx context.Context, f memory.Filter) ([]memory.Record, error) {
	var (
		clauses []string
		args    []any
	)
	if f.MeetingID != "" {
		clauses = append(clauses, "meeting_id = ?")
		args = append(args, f.MeetingID)
	}
	if f.Speaker != "" {
		clauses = append(clauses, "speaker = ?")
		args = append(args, f.Speaker)
	}
	query := "SELECT " + columns + " FROM memory_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		var (
			r       memory.Record
			section string
			vec     string
		)
		if err := rows.Scan(&r.ID, &r.Document, &r.Metadata.MeetingID, &section,
			&r.Metadata.Speaker, &r.Metadata.Timestamp, &vec); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Metadata.Section = memory.Section(section)
		if err := json.Unmarshal([]byte(vec), &r.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count implements memory.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
