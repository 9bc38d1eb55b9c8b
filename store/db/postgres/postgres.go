// Package postgres implements the store.KV contract on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/moodsense/moodsense/store"
)

// DB is a PostgreSQL-backed KV store.
type DB struct {
	db *sql.DB
}

// New connects to the PostgreSQL database at dsn and migrates the schema.
func New(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: open")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}

	d := &DB{db: db}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache_record (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			timestamp BIGINT NOT NULL,
			ttl BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_record_timestamp ON cache_record (timestamp);
	`)
	return errors.Wrap(err, "postgres: migrate")
}

// Get implements store.KV.
func (d *DB) Get(ctx context.Context, key string) (*store.Record, bool, error) {
	rec := &store.Record{}
	err := d.db.QueryRowContext(ctx,
		"SELECT data, timestamp, ttl FROM cache_record WHERE key = $1", key,
	).Scan(&rec.Data, &rec.Timestamp, &rec.TTL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "postgres: get")
	}
	return rec, true, nil
}

// Set implements store.KV.
func (d *DB) Set(ctx context.Context, key string, rec *store.Record) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO cache_record (key, data, timestamp, ttl) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, timestamp = EXCLUDED.timestamp, ttl = EXCLUDED.ttl
	`, key, rec.Data, rec.Timestamp, rec.TTL)
	return errors.Wrap(err, "postgres: set")
}

// Delete implements store.KV.
func (d *DB) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM cache_record WHERE key = ANY($1)", pq.Array(keys))
	if err != nil {
		return 0, errors.Wrap(err, "postgres: delete")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeletePrefix implements store.KV.
func (d *DB) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM cache_record WHERE key LIKE $1 || '%'", prefix)
	if err != nil {
		return 0, errors.Wrap(err, "postgres: delete prefix")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteExpired implements store.KV.
func (d *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM cache_record WHERE ttl > 0 AND $1 - timestamp > ttl * 1000", now.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "postgres: delete expired")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// OldestKeys implements store.KV.
func (d *DB) OldestKeys(ctx context.Context, n int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT key FROM cache_record ORDER BY timestamp ASC LIMIT $1", n)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: oldest keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "postgres: scan key")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "postgres: oldest keys")
}

// Close implements store.KV.
func (d *DB) Close() error {
	return d.db.Close()
}

var _ store.KV = (*DB)(nil)
