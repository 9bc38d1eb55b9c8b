// Package cache provides the day-scoped, multi-bucket TTL/LRU cache for
// analysis results, with optional write-through persistence and event-driven
// invalidation. The cache is an optimization, never a correctness dependency:
// every failure path degrades to recomputation.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moodsense/moodsense/store"
)

// Strategy tags a bucket's eviction behavior.
type Strategy string

const (
	// StrategyLRU evicts by last access when the bucket exceeds its max size.
	StrategyLRU Strategy = "lru"
	// StrategyTTLOnly evicts only on TTL expiry.
	StrategyTTLOnly Strategy = "ttl-only"
)

// Bucket names used by the pipeline.
const (
	BucketVoice     = "voice"
	BucketPatterns  = "patterns"
	BucketInsights  = "insights"
	BucketAnalytics = "analytics"
)

// evictFraction is the share of an over-full LRU bucket dropped at once.
const evictFraction = 0.2

// BucketConfig describes one bucket.
type BucketConfig struct {
	Name     string
	TTL      time.Duration
	MaxSize  int
	Strategy Strategy
}

// DefaultBuckets returns the bucket set used by the analysis pipeline.
func DefaultBuckets() []BucketConfig {
	return []BucketConfig{
		{Name: BucketVoice, TTL: 10 * time.Minute, MaxSize: 500, Strategy: StrategyLRU},
		{Name: BucketPatterns, TTL: time.Hour, MaxSize: 1000, Strategy: StrategyLRU},
		{Name: BucketInsights, TTL: 6 * time.Hour, MaxSize: 500, Strategy: StrategyLRU},
		{Name: BucketAnalytics, TTL: 24 * time.Hour, MaxSize: 200, Strategy: StrategyTTLOnly},
	}
}

// DefaultEventMap maps domain invalidation events to bucket names.
// "*" clears every bucket. The mapping is configuration, not hard-coded
// per event at the call sites.
func DefaultEventMap() map[string][]string {
	return map[string][]string{
		"entry_added":       {BucketPatterns, BucketInsights},
		"session_completed": {BucketInsights, BucketAnalytics},
		"manual_refresh":    {"*"},
	}
}

// Entry is a cached value plus its bookkeeping. Owned exclusively by the
// cache; mutated on every read (hit count, LRU touch) and write.
type Entry struct {
	Key            string
	Data           []byte
	CreatedAt      time.Time
	TTL            time.Duration
	HitCount       int64
	LastAccessedAt time.Time

	element *list.Element
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits      int64          `json:"hits"`
	Misses    int64          `json:"misses"`
	Evictions int64          `json:"evictions"`
	HitRate   float64        `json:"hit_rate"`
	Sizes     map[string]int `json:"sizes"`
}

type bucket struct {
	cfg     BucketConfig
	mu      sync.Mutex
	entries map[string]*Entry
	order   *list.List // front = most recently used
}

// Layer is the multi-bucket cache. The bucket set is fixed at construction,
// so bucket lookup needs no lock; each bucket has its own mutex and a touch
// in one bucket never blocks readers of another.
type Layer struct {
	buckets map[string]*bucket
	kv      store.KV // optional write-through persistence
	events  map[string][]string
	logger  *slog.Logger
	onEvict func(bucketName string)

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	now func() time.Time // test seam
}

// Config configures the cache layer.
type Config struct {
	Buckets []BucketConfig
	// TTLOverrides replaces bucket default TTLs by name (seconds-level
	// config surface).
	TTLOverrides map[string]time.Duration
	// EventMap maps invalidation event names to bucket names.
	EventMap map[string][]string
	// KV enables write-through persistence when non-nil.
	KV     store.KV
	Logger *slog.Logger
	// OnEvict is called once per evicted entry with the bucket name,
	// typically wired to the metrics exporter.
	OnEvict func(bucketName string)
}

// NewLayer creates the cache layer.
func NewLayer(cfg Config) *Layer {
	bcfgs := cfg.Buckets
	if len(bcfgs) == 0 {
		bcfgs = DefaultBuckets()
	}
	events := cfg.EventMap
	if events == nil {
		events = DefaultEventMap()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Layer{
		buckets: make(map[string]*bucket, len(bcfgs)),
		kv:      cfg.KV,
		events:  events,
		logger:  logger,
		onEvict: cfg.OnEvict,
		now:     time.Now,
	}
	for _, bc := range bcfgs {
		if ttl, ok := cfg.TTLOverrides[bc.Name]; ok && ttl > 0 {
			bc.TTL = ttl
		}
		if bc.MaxSize <= 0 {
			bc.MaxSize = 500
		}
		l.buckets[bc.Name] = &bucket{
			cfg:     bc,
			entries: make(map[string]*Entry),
			order:   list.New(),
		}
	}
	return l
}

// Key builds a day-scoped cache key. Identical content naturally misses on a
// new calendar day because the day component changes.
func Key(bucketName, userID string, t time.Time, contentHash string) string {
	return fmt.Sprintf("%s:%s:%s:%s", bucketName, userID, t.Format("2006-01-02"), contentHash)
}

// DefaultTTL returns the bucket's effective TTL, or zero for unknown buckets.
func (l *Layer) DefaultTTL(bucketName string) time.Duration {
	if b, ok := l.buckets[bucketName]; ok {
		return b.cfg.TTL
	}
	return 0
}

// Get returns the cached value for key, reporting a miss for unknown buckets,
// absent keys and expired entries. Expired entries are deleted on read and
// counted as one eviction.
func (l *Layer) Get(ctx context.Context, bucketName, key string) ([]byte, bool) {
	b, ok := l.buckets[bucketName]
	if !ok {
		l.misses.Add(1)
		return nil, false
	}
	now := l.now()

	b.mu.Lock()
	e, ok := b.entries[key]
	if ok {
		if now.Sub(e.CreatedAt) > e.TTL {
			b.removeLocked(e)
			l.evicted(b.cfg.Name, 1)
			ok = false
		} else {
			e.HitCount++
			e.LastAccessedAt = now
			if b.cfg.Strategy == StrategyLRU {
				b.order.MoveToFront(e.element)
			}
			data := e.Data
			b.mu.Unlock()
			l.hits.Add(1)
			return data, true
		}
	}
	b.mu.Unlock()

	// Read-through: a restart empties the in-memory tier, but persisted
	// records can still serve.
	if l.kv != nil {
		if data, ok := l.getPersisted(ctx, b, key, now); ok {
			l.hits.Add(1)
			return data, true
		}
	}

	l.misses.Add(1)
	return nil, false
}

func (l *Layer) getPersisted(ctx context.Context, b *bucket, key string, now time.Time) ([]byte, bool) {
	rec, found, err := l.kv.Get(ctx, key)
	if err != nil {
		l.logger.Debug("cache store read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	if rec.Expired(now) {
		if _, err := l.kv.Delete(ctx, key); err != nil {
			l.logger.Debug("cache store delete failed", "key", key, "error", err)
		}
		l.evicted(b.cfg.Name, 1)
		return nil, false
	}
	remaining := time.Duration(rec.TTL)*time.Second - now.Sub(time.UnixMilli(rec.Timestamp))
	l.insert(b, key, rec.Data, remaining, now)
	return rec.Data, true
}

// Set stores data under key. A non-positive ttl uses the bucket default.
func (l *Layer) Set(ctx context.Context, bucketName, key string, data []byte, ttl time.Duration) {
	b, ok := l.buckets[bucketName]
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = b.cfg.TTL
	}
	now := l.now()
	l.insert(b, key, data, ttl, now)

	if l.kv != nil {
		l.persist(ctx, key, data, ttl, now)
	}
}

func (l *Layer) insert(b *bucket, key string, data []byte, ttl time.Duration, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		e.Data = data
		e.CreatedAt = now
		e.TTL = ttl
		e.LastAccessedAt = now
		if b.cfg.Strategy == StrategyLRU {
			b.order.MoveToFront(e.element)
		}
		return
	}

	e := &Entry{
		Key:            key,
		Data:           data,
		CreatedAt:      now,
		TTL:            ttl,
		LastAccessedAt: now,
	}
	e.element = b.order.PushFront(e)
	b.entries[key] = e

	if b.cfg.Strategy == StrategyLRU && len(b.entries) > b.cfg.MaxSize {
		l.evictOldestLocked(b)
	}
}

// evictOldestLocked drops the oldest ~20% of entries by last access time.
// Must be called with the bucket lock held.
func (l *Layer) evictOldestLocked(b *bucket) {
	n := int(float64(b.cfg.MaxSize) * evictFraction)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		oldest := b.order.Back()
		if oldest == nil {
			return
		}
		b.removeLocked(oldest.Value.(*Entry))
		l.evicted(b.cfg.Name, 1)
	}
}

// evicted counts n evictions and forwards them to the configured hook.
func (l *Layer) evicted(bucketName string, n int) {
	l.evictions.Add(int64(n))
	if l.onEvict != nil {
		for i := 0; i < n; i++ {
			l.onEvict(bucketName)
		}
	}
}

// persist writes through to the KV store, tolerating failure: evict a few
// oldest persisted entries and retry once, then drop silently and rely on
// recomputation next call.
func (l *Layer) persist(ctx context.Context, key string, data []byte, ttl time.Duration, now time.Time) {
	rec := &store.Record{
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTL:       int64(ttl / time.Second),
	}
	err := l.kv.Set(ctx, key, rec)
	if err == nil {
		return
	}
	l.logger.Debug("cache store write failed, evicting and retrying", "key", key, "error", err)

	if keys, kerr := l.kv.OldestKeys(ctx, 8); kerr == nil && len(keys) > 0 {
		if _, derr := l.kv.Delete(ctx, keys...); derr != nil {
			l.logger.Debug("cache store eviction failed", "error", derr)
		}
	}
	if err := l.kv.Set(ctx, key, rec); err != nil {
		l.logger.Debug("cache store write dropped", "key", key, "error", err)
	}
}

// Invalidate removes entries from the named bucket. An empty userID clears
// the whole bucket; otherwise only that user's keys are removed. Returns the
// number of in-memory entries dropped.
func (l *Layer) Invalidate(ctx context.Context, bucketName, userID string) int {
	b, ok := l.buckets[bucketName]
	if !ok {
		return 0
	}

	prefix := bucketName + ":"
	if userID != "" {
		prefix += userID + ":"
	}

	b.mu.Lock()
	count := 0
	for key, e := range b.entries {
		if userID == "" || strings.HasPrefix(key, prefix) {
			b.removeLocked(e)
			count++
		}
	}
	b.mu.Unlock()

	if l.kv != nil {
		if _, err := l.kv.DeletePrefix(ctx, prefix); err != nil {
			l.logger.Debug("cache store invalidation failed", "prefix", prefix, "error", err)
		}
	}

	l.logger.Debug("cache invalidated", "bucket", bucketName, "user_id", userID, "count", count)
	return count
}

// InvalidateAll clears every bucket.
func (l *Layer) InvalidateAll(ctx context.Context) int {
	total := 0
	for name := range l.buckets {
		total += l.Invalidate(ctx, name, "")
	}
	return total
}

// HandleEvent applies a named domain invalidation event (fire-and-forget
// push from the domain layer) using the configured event map.
func (l *Layer) HandleEvent(ctx context.Context, event, userID string) int {
	names, ok := l.events[event]
	if !ok {
		l.logger.Debug("unknown invalidation event ignored", "event", event)
		return 0
	}
	total := 0
	for _, name := range names {
		if name == "*" {
			total += l.InvalidateAll(ctx)
			continue
		}
		total += l.Invalidate(ctx, name, userID)
	}
	return total
}

// Stats returns a snapshot of cache counters and per-bucket sizes.
func (l *Layer) Stats() Stats {
	hits := l.hits.Load()
	misses := l.misses.Load()
	s := Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: l.evictions.Load(),
		Sizes:     make(map[string]int, len(l.buckets)),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	for name, b := range l.buckets {
		b.mu.Lock()
		s.Sizes[name] = len(b.entries)
		b.mu.Unlock()
	}
	return s
}

// removeLocked unlinks an entry. Must be called with the bucket lock held.
func (b *bucket) removeLocked(e *Entry) {
	b.order.Remove(e.element)
	delete(b.entries, e.Key)
}
