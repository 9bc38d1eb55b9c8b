package cache

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Hour

// StartSweeper runs a periodic expiry sweep until ctx is cancelled.
// The sweep never holds a bucket lock for its full duration: it snapshots
// candidates under the lock, then deletes them individually.
func (l *Layer) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := l.Sweep(ctx)
				if removed > 0 {
					l.logger.Debug("cache sweep completed", "removed", removed)
				}
			}
		}
	}()
}

// Sweep removes expired entries from every bucket and the persisted tier,
// returning the number of in-memory entries removed.
func (l *Layer) Sweep(ctx context.Context) int {
	now := l.now()
	removed := 0

	for _, b := range l.buckets {
		// Snapshot expired keys under the lock, delete individually after.
		b.mu.Lock()
		var expired []string
		for key, e := range b.entries {
			if now.Sub(e.CreatedAt) > e.TTL {
				expired = append(expired, key)
			}
		}
		b.mu.Unlock()

		for _, key := range expired {
			b.mu.Lock()
			if e, ok := b.entries[key]; ok && now.Sub(e.CreatedAt) > e.TTL {
				b.removeLocked(e)
				l.evicted(b.cfg.Name, 1)
				removed++
			}
			b.mu.Unlock()
		}
	}

	if l.kv != nil {
		if n, err := l.kv.DeleteExpired(ctx, now); err != nil {
			l.logger.Debug("cache store sweep failed", "error", err)
		} else if n > 0 {
			l.logger.Debug("cache store sweep completed", "removed", n)
		}
	}
	return removed
}
