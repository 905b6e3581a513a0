package database

import (
	"context"
	"slices"
	"testing"
	"testing/fstest"
)

func TestParseMigration(t *testing.T) {
	tests := []struct {
		file        string
		wantOK      bool
		wantVersion string
		wantName    string
	}{
		{"20260301_090000_kv_schema.up.sql", true, "20260301_090000", "kv_schema"},
		{"20260301_090000.up.sql", true, "20260301_090000", ""},
		{"20260301_090000_kv_schema.down.sql", false, "", ""},
		{"invalid.up.sql", false, "", ""},
		{"README.md", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			m, ok := parseMigration(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("parseMigration(%q) ok = %v, want %v", tt.file, ok, tt.wantOK)
			}
			if m.version != tt.wantVersion || m.name != tt.wantName {
				t.Errorf("parseMigration(%q) = (%q, %q), want (%q, %q)", tt.file, m.version, m.name, tt.wantVersion, tt.wantName)
			}
		})
	}
}

func TestMigrate_AppliesInOrderOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260302_000000_add_col.up.sql":   {Data: []byte("ALTER TABLE kv ADD COLUMN note TEXT;")},
		"20260301_000000_create.up.sql":    {Data: []byte("CREATE TABLE kv (k TEXT PRIMARY KEY);")},
		"20260301_000000_create.down.sql":  {Data: []byte("DROP TABLE kv;")},
		"20260302_000000_add_col.down.sql": {Data: []byte("SELECT 1;")},
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A second run finds nothing to do.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	applied, err := db.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied() error = %v", err)
	}
	want := []string{"20260301_000000", "20260302_000000"}
	if !slices.Equal(applied, want) {
		t.Errorf("Applied() = %v, want %v", applied, want)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO kv (k, note) VALUES ('a', 'b')"); err != nil {
		t.Errorf("schema not migrated: %v", err)
	}
}

func TestMigrate_FailureStopsAndRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260301_000000_ok.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"20260302_000000_bad.up.sql":  {Data: []byte("CREATE TABLE b (id INTEGER); THIS IS NOT SQL;")},
		"20260303_000000_late.up.sql": {Data: []byte("CREATE TABLE c (id INTEGER);")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() error = nil, want failure on bad migration")
	}

	applied, err := db.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied() error = %v", err)
	}
	if want := []string{"20260301_000000"}; !slices.Equal(applied, want) {
		t.Errorf("Applied() = %v, want %v", applied, want)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name IN ('b', 'c')").Scan(&n); err != nil {
		t.Fatalf("QueryRowContext() error = %v", err)
	}
	if n != 0 {
		t.Errorf("tables from failed or later migrations = %d, want 0", n)
	}
}

func TestMigrate_NilFS(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	applied, err := db.Applied(context.Background())
	if err != nil {
		t.Fatalf("Applied() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Applied() = %v, want empty", applied)
	}
}
