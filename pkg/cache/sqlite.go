package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-node durable tier for deployments without Redis.
type SQLiteStore struct {
	db *sql.DB
}

const createSQLiteTables = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS namespace_versions (
	namespace TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSQLiteTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the value at key unless it is absent or expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	if time.Now().UnixNano() >= expiresAt {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set stores value with the given TTL. A non-positive TTL is a no-op.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Version reads the namespace counter.
func (s *SQLiteStore) Version(ctx context.Context, namespace string) (uint64, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM namespace_versions WHERE namespace = ?`, namespace,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sqlite get version: %w", err)
	}
	return v, nil
}

// BumpVersion increments the namespace counter.
func (s *SQLiteStore) BumpVersion(ctx context.Context, namespace string) (uint64, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO namespace_versions (namespace, version) VALUES (?, 1)
		 ON CONFLICT(namespace) DO UPDATE SET version = version + 1
		 RETURNING version`, namespace,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("sqlite bump version: %w", err)
	}
	return v, nil
}

// Sweep deletes expired rows and returns how many were removed.
// Expired rows are already invisible; sweeping only reclaims space.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite sweep: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
