// Package store defines the persistence contract the analysis pipeline
// requires: an abstract key-value store for cache records. The pipeline never
// depends on a specific engine; drivers live under store/db.
package store

import (
	"context"
	"time"
)

// Record is the persisted cache record layout: opaque result bytes plus
// epoch-millisecond write time and TTL seconds.
type Record struct {
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"` // epoch-ms
	TTL       int64  `json:"ttl"`       // seconds
}

// Expired reports whether the record is past its TTL at now.
func (r *Record) Expired(now time.Time) bool {
	if r.TTL <= 0 {
		return false
	}
	age := now.UnixMilli() - r.Timestamp
	return age > r.TTL*1000
}

// KV is the abstract key-value store backing the cache layer.
// All methods must be safe for concurrent use.
type KV interface {
	// Get returns the record for key, reporting whether it exists.
	Get(ctx context.Context, key string) (*Record, bool, error)

	// Set writes or replaces the record for key.
	Set(ctx context.Context, key string, rec *Record) error

	// Delete removes keys, returning how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// DeletePrefix removes every key with the given prefix, returning the count.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)

	// DeleteExpired removes records past their TTL at now, returning the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// OldestKeys returns up to n keys ordered by write time ascending.
	// Used by the cache layer's write-failure recovery path.
	OldestKeys(ctx context.Context, n int) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}
