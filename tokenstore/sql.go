package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const createKVTable = `CREATE TABLE IF NOT EXISTS auth_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLBackend stores values in a single auth_kv table.
type SQLBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and prepares the
// auth_kv table.
func OpenSQLite(ctx context.Context, path string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	db.SetMaxOpenConns(1)

	b, err := NewSQLBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLBackend wraps an open database and ensures the schema exists.
func NewSQLBackend(ctx context.Context, db *sql.DB) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("nil database")
	}
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		return nil, fmt.Errorf("%w: create table: %v", ErrBackend, err)
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM auth_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrBackend, key, err)
	}
	return value, true, nil
}

func (b *SQLBackend) Set(ctx context.Context, key, value string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO auth_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrBackend, key, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := b.db.ExecContext(ctx, `DELETE FROM auth_kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrBackend, key, err)
		}
	}
	return nil
}

// Close releases the underlying database.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}
