// Package pgstore keeps memory records in PostgreSQL for deployments that
// share one memory across hosts.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otherjamesbrown/meetmem/pkg/db"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/memory"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const columns = "id, document, meeting_id, section, speaker, recorded_at, embedding"

// Store persists memory records in a memory_records table. Store order is
// first-insert order.
type Store struct {
	pool   *pgxpool.Pool
	owned  bool
	logger logging.Logger
}

var _ memory.Store = (*Store)(nil)

// Option configures Open.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	logger     logging.Logger
}

// WithRegisterer exports pool statistics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open connects to PostgreSQL and applies the store's migrations.
func Open(ctx context.Context, cfg *db.Config, opts ...Option) (*Store, error) {
	o := options{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := db.ConnectWithRetry(ctx, cfg, 3, 2*time.Second)
	if err != nil {
		return nil, err
	}

	s, err := New(ctx, pool, o.logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true

	if o.registerer != nil {
		if _, err := db.RegisterPoolStatsCollector(o.registerer, pool, "meetmem", "postgres"); err != nil {
			s.logger.Warn("Pool metrics unavailable", logging.Err(err))
		}
	}
	return s, nil
}

// New wraps an existing pool, applying migrations. The caller keeps
// ownership of the pool.
func New(ctx context.Context, pool *pgxpool.Pool, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	res, err := db.RunMigrations(ctx, pool, sub)
	if err != nil {
		return nil, fmt.Errorf("migrate memory store: %w", err)
	}

	logger = logger.With(logging.F("component", "pgstore"))
	if len(res.Applied) > 0 {
		logger.Info("Applied migrations", logging.F("versions", res.Applied))
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert implements memory.Store in one transaction.
func (s *Store) Upsert(ctx context.Context, records []memory.Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO memory_records (`+columns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				document = EXCLUDED.document,
				meeting_id = EXCLUDED.meeting_id,
				section = EXCLUDED.section,
				speaker = EXCLUDED.speaker,
				recorded_at = EXCLUDED.recorded_at,
				embedding = EXCLUDED.embedding`,
			r.ID, r.Document, r.Metadata.MeetingID, string(r.Metadata.Section),
			r.Metadata.Speaker, r.Metadata.Timestamp, nonNil(r.Embedding),
		)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
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
		args = append(args, f.MeetingID)
		clauses = append(clauses, fmt.Sprintf("meeting_id = $%d", len(args)))
	}
	if f.Speaker != "" {
		args = append(args, f.Speaker)
		clauses = append(clauses, fmt.Sprintf("speaker = $%d", len(args)))
	}
	query := "SELECT " + columns + " FROM memory_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		var (
			r       memory.Record
			section string
		)
		err := row.Scan(&r.ID, &r.Document, &r.Metadata.MeetingID, &section,
			&r.Metadata.Speaker, &r.Metadata.Timestamp, &r.Embedding)
		r.Metadata.Section = memory.Section(section)
		return r, err
	})
}

// Count implements memory.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM memory_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close closes the pool when the store opened it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

func nonNil(v []float32) []float32 {
	if v == nil {
		return []float32{}
	}
	return v
}
