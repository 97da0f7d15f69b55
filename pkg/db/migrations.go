package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationsTable records which schema versions have been applied.
const MigrationsTable = "meetmem_schema_migrations"

// migrationLockKey serializes concurrent openers (a watcher and a CLI run
// against the same database) while they migrate.
const migrationLockKey int64 = 0x6d65_6574_6d65_6d

// Migration is one .sql file.
type Migration struct {
	Version string
	Name    string
}

// MigrationResult lists the versions a run applied and those it found
// already applied.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

// RunMigrations applies the .sql files at the root of fsys in name order,
// each in its own transaction, holding an advisory lock for the whole run.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (*MigrationResult, error) {
	if pool == nil {
		return nil, errors.New("run migrations: nil pool")
	}
	migrations, err := listMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey) //nolint:errcheck

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+MigrationsTable+` (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", MigrationsTable, err)
	}

	applied, err := appliedVersions(ctx, conn.Conn())
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{}
	for _, m := range migrations {
		if applied[m.Version] {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}
		body, err := fs.ReadFile(fsys, m.Name)
		if err != nil {
			return result, fmt.Errorf("read %s: %w", m.Name, err)
		}
		if strings.TrimSpace(string(body)) == "" {
			return result, fmt.Errorf("migration %s is empty", m.Name)
		}
		err = pgx.BeginFunc(ctx, conn.Conn(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+MigrationsTable+" (version) VALUES ($1)", m.Version)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		result.Applied = append(result.Applied, m.Version)
	}
	return result, nil
}

// listMigrations returns the .sql files at the root of fsys by version.
func listMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		migrations = append(migrations, Migration{Version: versionOf(name), Name: name})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func versionOf(name string) string {
	if v := strings.TrimSuffix(name, ".sql"); v != "" {
		return v
	}
	return name
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, "SELECT version FROM "+MigrationsTable)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
