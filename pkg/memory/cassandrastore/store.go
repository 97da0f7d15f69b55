// Package cassandrastore keeps memory records in Cassandra.
package cassandrastore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/otherjamesbrown/meetmem/pkg/memory"
)

// Config holds Cassandra connection settings.
type Config struct {
	Hosts             []string `yaml:"hosts"`
	Keyspace          string   `yaml:"keyspace"`
	ReplicationFactor int      `yaml:"replication_factor"`
}

// DefaultConfig returns a single-node local configuration.
func DefaultConfig() Config {
	return Config{
		Hosts:             []string{"127.0.0.1"},
		Keyspace:          "meetmem",
		ReplicationFactor: 1,
	}
}

// Store persists memory records in the memory_records table. The seq
// column is set on first insert and defines store order.
type Store struct {
	session *gocql.Session
}

var _ memory.Store = (*Store)(nil)

const columns = "id, seq, document, meeting_id, section, speaker, recorded_at, embedding"

func newCluster(hosts []string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	return cluster
}

// Open connects to the cluster, creating the keyspace and table when
// missing.
func Open(cfg Config) (*Store, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("cassandra hosts are required")
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = DefaultConfig().Keyspace
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}

	bootstrap, err := newCluster(cfg.Hosts).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Cassandra: %w", err)
	}
	err = bootstrap.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, cfg.ReplicationFactor)).Exec()
	bootstrap.Close()
	if err != nil {
		return nil, fmt.Errorf("create keyspace: %w", err)
	}

	cluster := newCluster(cfg.Hosts)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Cassandra: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id text PRIMARY KEY,
			seq timeuuid,
			document text,
			meeting_id text,
			section text,
			speaker text,
			recorded_at text,
			embedding list<float>
		)`,
		`CREATE INDEX IF NOT EXISTS memory_records_meeting_id ON memory_records (meeting_id)`,
		`CREATE INDEX IF NOT EXISTS memory_records_speaker ON memory_records (speaker)`,
	}
	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &Store{session: session}, nil
}

// Upsert implements memory.Store. A new id is inserted with a fresh seq; an
// existing one is updated in place.
func (s *Store) Upsert(ctx context.Context, records []memory.Record) error {
	for _, r := range records {
		existing := map[string]any{}
		applied, err := s.session.Query(
			`INSERT INTO memory_records (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			r.ID, gocql.TimeUUID(), r.Document, r.Metadata.MeetingID, string(r.Metadata.Section),
			r.Metadata.Speaker, r.Metadata.Timestamp, r.Embedding,
		).WithContext(ctx).MapScanCAS(existing)
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
		if applied {
			continue
		}
		if err := s.session.Query(
			`UPDATE memory_records SET document = ?, meeting_id = ?, section = ?, speaker = ?, recorded_at = ?, embedding = ? WHERE id = ?`,
			r.Document, r.Metadata.MeetingID, string(r.Metadata.Section),
			r.Metadata.Speaker, r.Metadata.Timestamp, r.Embedding, r.ID,
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("update %s: %w", r.ID, err)
		}
	}
	return nil
}

// Query implements memory.Store by ranking every stored vector.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]memory.Record, error) {
	all, err := s.Where(ctx, memory.Filter{})
	if err != nil {
		return nil, err
	}
	return memory.Rank(all, vector, k), nil
}

// Where implements memory.Store. Cassandra cannot order a table scan, so
// rows are sorted by seq after reading.
func (s *Store) Where(ctx context.Context, f memory.Filter) ([]memory.Record, error) {
	query := "SELECT " + columns + " FROM memory_records"
	var args []any
	switch {
	case f.MeetingID != "" && f.Speaker != "":
		query += " WHERE meeting_id = ? AND speaker = ? ALLOW FILTERING"
		args = append(args, f.MeetingID, f.Speaker)
	case f.MeetingID != "":
		query += " WHERE meeting_id = ?"
		args = append(args, f.MeetingID)
	case f.Speaker != "":
		query += " WHERE speaker = ?"
		args = append(args, f.Speaker)
	}

	iter := s.session.Query(query, args...).WithContext(ctx).Iter()

	type row struct {
		seq gocql.UUID
		rec memory.Record
	}
	var rows []row
	for {
		var (
			r       row
			section string
		)
		if !iter.Scan(&r.rec.ID, &r.seq, &r.rec.Document, &r.rec.Metadata.MeetingID, &section,
			&r.rec.Metadata.Speaker, &r.rec.Metadata.Timestamp, &r.rec.Embedding) {
			break
		}
		r.rec.Metadata.Section = memory.Section(section)
		rows = append(rows, r)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].seq.Time().Before(rows[j].seq.Time())
	})
	out := make([]memory.Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

// Count implements memory.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.session.Query("SELECT COUNT(*) FROM memory_records").WithContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

// Close closes the session.
func (s *Store) Close() error {
	s.session.Close()
	return nil
}

// Truncate removes every record.
func (s *Store) Truncate(ctx context.Context) error {
	return s.session.Query("TRUNCATE memory_records").WithContext(ctx).Exec()
}
