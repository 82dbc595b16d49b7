// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of the [Store] interface. Each
// collection is a table.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens the SQLite database at path, creating it and the
// collection table if necessary.
func NewSQLiteStore(ctx context.Context, path, collection string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, err
	}

	// collection is validated by Open, or comes from a constant.
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+collection+` (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, table: collection}, nil
}

// All returns all records of the table.
func (s *SQLiteStore) All(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM `+s.table+`;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		all[key] = value
	}
	return all, rows.Err()
}

// Set upserts a record.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at;
	`, key, value, time.Now().Unix())
	return err
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
