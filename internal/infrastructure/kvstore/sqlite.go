package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
	"github.com/nerrad567/tep-core/internal/infrastructure/database"
	"github.com/nerrad567/tep-core/migrations"
)

const defaultPollInterval = 250 * time.Millisecond

// SQLiteStore is a Store kept in an embedded SQLite file.
//
// Watches poll the kv table at PollInterval, so several processes sharing
// the same file observe each other's writes.
type SQLiteStore struct {
	db           *database.DB
	pollInterval time.Duration
}

// NewSQLiteStore opens (and migrates) the database at cfg.Path.
func NewSQLiteStore(ctx context.Context, cfg config.SQLiteConfig) (*SQLiteStore, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &SQLiteStore{db: db, pollInterval: poll}, nil
}

// Read returns the current value of key.
func (s *SQLiteStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}

	var e Entry
	err := s.db.QueryRowContext(ctx,
		"SELECT value, revision FROM kv WHERE key = ? AND deleted = 0", key,
	).Scan(&e.Value, &e.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return Entry{}, unavailable(err)
	}
	e.Key = key
	return e, nil
}

// List returns every live key under prefix.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	dir := folder(prefix)

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, revision FROM kv WHERE deleted = 0 AND substr(key, 1, ?) = ? ORDER BY key",
		len(dir), dir,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Revision); err != nil {
			return nil, unavailable(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

// Write stores value under key.
func (s *SQLiteStore) Write(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if value == nil {
		value = []byte{}
	}

	var revision uint64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		rev, err := nextRevision(ctx, tx)
		if err != nil {
			return err
		}
		revision = rev
		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, revision, deleted) VALUES (?, ?, ?, 0)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, revision = excluded.revision, deleted = 0
		`, key, value, rev)
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return revision, nil
}

// Delete removes key, or the whole folder when recursive is set.
func (s *SQLiteStore) Delete(ctx context.Context, key string, recursive bool) error {
	if err := validateKey(key); err != nil {
		return err
	}

	var affected int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		rev, err := nextRevision(ctx, tx)
		if err != nil {
			return err
		}

		var res sql.Result
		if recursive {
			dir := folder(key)
			res, err = tx.ExecContext(ctx, `
				UPDATE kv SET value = x'', revision = ?, deleted = 1
				WHERE deleted = 0 AND (key = ? OR substr(key, 1, ?) = ?)
			`, rev, key, len(dir), dir)
		} else {
			res, err = tx.ExecContext(ctx,
				"UPDATE kv SET value = x'', revision = ?, deleted = 1 WHERE deleted = 0 AND key = ?",
				rev, key,
			)
		}
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return unavailable(err)
	}

	if affected == 0 && !recursive {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return nil
}

// Watch polls key until it changes past afterRevision.
func (s *SQLiteStore) Watch(ctx context.Context, key string, afterRevision uint64, timeout time.Duration) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var e Entry
		var deleted int
		err := s.db.QueryRowContext(ctx,
			"SELECT value, revision, deleted FROM kv WHERE key = ? AND revision > ?",
			key, afterRevision,
		).Scan(&e.Value, &e.Revision, &deleted)
		switch {
		case err == nil:
			e.Key = key
			e.Deleted = deleted != 0
			if e.Deleted {
				e.Value = nil
			}
			return e, nil
		case errors.Is(err, sql.ErrNoRows):
		case ctx.Err() != nil:
			return Entry{}, ctx.Err()
		default:
			return Entry{}, unavailable(err)
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return Entry{}, ErrWatchTimeout
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// Close closes the database file.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nextRevision bumps and returns the store-wide revision counter.
func nextRevision(ctx context.Context, tx *sql.Tx) (uint64, error) {
	if _, err := tx.ExecContext(ctx, "UPDATE kv_meta SET revision = revision + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("bumping revision: %w", err)
	}
	var rev uint64
	if err := tx.QueryRowContext(ctx, "SELECT revision FROM kv_meta WHERE id = 1").Scan(&rev); err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
