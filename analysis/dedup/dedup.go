// Package dedup detects near-repeat submissions via content fingerprints
// held in a short rolling window. It exists to blunt repeated or accidental
// submissions; false negatives are acceptable, false positives must be rare.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultWindow is the recency window within which a repeat counts as a
// duplicate. Minutes, not days.
const DefaultWindow = 5 * time.Minute

const maxEntries = 1024

// Result is the outcome of a duplicate check.
type Result struct {
	IsDuplicate bool
	LastSeenAt  time.Time
}

// Deduplicator keeps a per-process rolling window of recent fingerprints.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time

	now func() time.Time // test seam
}

// New creates a Deduplicator. A non-positive window falls back to DefaultWindow.
func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Fingerprint returns a stable fingerprint of normalized content.
func Fingerprint(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:16])
}

// CheckAndRecord reports whether normalizedText was seen within the recency
// window, scoped to userID, and records this sighting.
func (d *Deduplicator) CheckAndRecord(userID, normalizedText string) Result {
	key := userID + ":" + Fingerprint(normalizedText)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)

	last, ok := d.seen[key]
	d.seen[key] = now
	if ok && now.Sub(last) <= d.window {
		return Result{IsDuplicate: true, LastSeenAt: last}
	}
	return Result{IsDuplicate: false}
}

// pruneLocked drops expired entries, and oldest entries when the window map
// grows past maxEntries. Must be called with the lock held.
func (d *Deduplicator) pruneLocked(now time.Time) {
	for key, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, key)
		}
	}
	if len(d.seen) <= maxEntries {
		return
	}
	// Rare overflow under burst traffic: drop the oldest entries.
	for key, t := range d.seen {
		if len(d.seen) <= maxEntries {
			break
		}
		if now.Sub(t) > d.window/2 {
			delete(d.seen, key)
		}
	}
}
