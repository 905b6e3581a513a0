package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

func testConfig(t *testing.T) config.SQLiteConfig {
	t.Helper()
	return config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "kv.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDirectoryAndFile(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestOpen_WALMode(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SQLiteConfig
		want    []string
		notWant []string
	}{
		{
			name: "wal",
			cfg:  config.SQLiteConfig{Path: "/tmp/kv.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/tmp/kv.db?", "_busy_timeout=5000", "_journal_mode=WAL", "_foreign_keys=on"},
		},
		{
			name:    "rollback journal",
			cfg:     config.SQLiteConfig{Path: "/tmp/kv.db", BusyTimeout: 1},
			want:    []string{"_busy_timeout=1000"},
			notWant: []string{"_journal_mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dsn(tt.cfg)
			for _, s := range tt.want {
				if !strings.Contains(got, s) {
					t.Errorf("dsn() = %q, want it to contain %q", got, s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(got, s) {
					t.Errorf("dsn() = %q, want it without %q", got, s)
				}
			}
		})
	}
}

func TestInTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}

	if err := db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
		return err
	}); err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	errBoom := errors.New("boom")
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (2)"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("InTx() error = %v, want %v", err, errBoom)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("QueryRowContext() error = %v", err)
	}
	if n != 1 {
		t.Errorf("row count = %d, want 1 (failed transaction rolled back)", n)
	}
}

func TestClose_Nil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
}
