// Package sqlite implements the store.KV contract on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/moodsense/moodsense/store"
)

// DB is a sqlite-backed KV store.
type DB struct {
	db *sql.DB
}

// New opens (or creates) the sqlite database at dsn and migrates the schema.
func New(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlite: empty DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent cache writes.
	db.SetMaxOpenConns(1)

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
			data BLOB NOT NULL,
			timestamp BIGINT NOT NULL,
			ttl BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_record_timestamp ON cache_record (timestamp);
	`)
	return errors.Wrap(err, "sqlite: migrate")
}

// Get implements store.KV.
func (d *DB) Get(ctx context.Context, key string) (*store.Record, bool, error) {
	rec := &store.Record{}
	err := d.db.QueryRowContext(ctx,
		"SELECT data, timestamp, ttl FROM cache_record WHERE key = ?", key,
	).Scan(&rec.Data, &rec.Timestamp, &rec.TTL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "sqlite: get")
	}
	return rec, true, nil
}

// Set implements store.KV.
func (d *DB) Set(ctx context.Context, key string, rec *store.Record) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO cache_record (key, data, timestamp, ttl) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp, ttl = excluded.ttl
	`, key, rec.Data, rec.Timestamp, rec.TTL)
	return errors.Wrap(err, "sqlite: set")
}

// Delete implements store.KV.
func (d *DB) Delete(ctx context.Context, keys ...string) (int64, error) {
	var count int64
	for _, key := range keys {
		res, err := d.db.ExecContext(ctx, "DELETE FROM cache_record WHERE key = ?", key)
		if err != nil {
			return count, errors.Wrap(err, "sqlite: delete")
		}
		n, _ := res.RowsAffected()
		count += n
	}
	return count, nil
}

// DeletePrefix implements store.KV.
func (d *DB) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM cache_record WHERE key LIKE ? || '%'", prefix)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite: delete prefix")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteExpired implements store.KV.
func (d *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM cache_record WHERE ttl > 0 AND ? - timestamp > ttl * 1000", now.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "sqlite: delete expired")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// OldestKeys implements store.KV.
func (d *DB) OldestKeys(ctx context.Context, n int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT key FROM cache_record ORDER BY timestamp ASC LIMIT ?", n)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: oldest keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan key")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "sqlite: oldest keys")
}

// Close implements store.KV.
func (d *DB) Close() error {
	return d.db.Close()
}

var _ store.KV = (*DB)(nil)
