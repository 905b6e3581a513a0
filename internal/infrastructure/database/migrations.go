package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

const (
	upSuffix = ".up.sql"

	createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`
)

// migration is one YYYYMMDD_HHMMSS_name.up.sql file.
type migration struct {
	version string
	name    string
	file    string
}

// Migrate applies the *.up.sql files at the root of fsys that are not yet
// recorded in schema_migrations.
//
// Files run oldest first, each in its own transaction. A failing file is
// rolled back; the files before it stay applied, and the next Migrate
// resumes at the failed one. The .down.sql companions are kept for manual
// rollback and never run here.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	if fsys == nil {
		return nil
	}

	all, err := scanMigrations(fsys)
	if err != nil {
		return err
	}
	applied, err := db.Applied(ctx)
	if err != nil {
		return err
	}

	for _, m := range all {
		if slices.Contains(applied, m.version) {
			continue
		}
		body, err := fs.ReadFile(fsys, m.file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", m.file, err)
		}
		if err := db.apply(ctx, m.version, string(body)); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// Applied returns the recorded migration versions, oldest first.
func (db *DB) Applied(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) apply(ctx context.Context, version, body string) error {
	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// scanMigrations lists the up migrations at the root of fsys, oldest first.
func scanMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if m, ok := parseMigration(entry.Name()); ok {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

// parseMigration splits "20260301_090000_kv_schema.up.sql" into its
// version "20260301_090000" and name "kv_schema". Down files and
// anything else are rejected.
func parseMigration(file string) (migration, bool) {
	base, ok := strings.CutSuffix(file, upSuffix)
	if !ok {
		return migration{}, false
	}
	date, rest, ok := strings.Cut(base, "_")
	if !ok || date == "" {
		return migration{}, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return migration{}, false
	}
	return migration{version: date + "_" + clock, name: name, file: file}, true
}
