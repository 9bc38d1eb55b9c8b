// Package stats tracks process-wide analysis counters behind a narrow,
// concurrency-safe update API. Counters live from process start until
// restart or an explicit Reset.
package stats

import (
	"sync"
	"sync/atomic"
)

// Snapshot is a consistent point-in-time view of the counters.
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	CacheHits       int64   `json:"cache_hits"`
	Escalations     int64   `json:"escalations"`
	Errors          int64   `json:"errors"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	DailyTokenUsage int64   `json:"daily_token_usage"`
	TokenRemaining  int64   `json:"token_remaining"`
}

// Stats is the shared request-statistics accumulator. All methods are safe
// for concurrent use; the running latency average is guarded by its own
// mutex so counter updates never contend with it.
type Stats struct {
	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	escalations   atomic.Int64
	errors        atomic.Int64
	tokensUsed    atomic.Int64

	latencyMu sync.Mutex
	avgMs     float64
	samples   int64
}

// New creates an empty Stats.
func New() *Stats { return &Stats{} }

// RecordRequest counts one completed request and folds its latency into the
// running average: avg' = (avg*(n-1) + new) / n.
func (s *Stats) RecordRequest(latencyMs float64) {
	s.totalRequests.Add(1)

	s.latencyMu.Lock()
	s.samples++
	s.avgMs = (s.avgMs*float64(s.samples-1) + latencyMs) / float64(s.samples)
	s.latencyMu.Unlock()
}

// RecordCacheHit counts one cache-served request.
func (s *Stats) RecordCacheHit() { s.cacheHits.Add(1) }

// RecordEscalation counts one external-model escalation and its token spend.
func (s *Stats) RecordEscalation(tokens int64) {
	s.escalations.Add(1)
	if tokens > 0 {
		s.tokensUsed.Add(tokens)
	}
}

// RecordError counts one request that degraded to the fallback result.
func (s *Stats) RecordError() { s.errors.Add(1) }

// Snapshot returns the current counters. tokenRemaining is supplied by the
// caller, which owns the budget collaborator.
func (s *Stats) Snapshot(tokenRemaining int64) Snapshot {
	s.latencyMu.Lock()
	avg := s.avgMs
	s.latencyMu.Unlock()

	return Snapshot{
		TotalRequests:   s.totalRequests.Load(),
		CacheHits:       s.cacheHits.Load(),
		Escalations:     s.escalations.Load(),
		Errors:          s.errors.Load(),
		AvgLatencyMs:    avg,
		DailyTokenUsage: s.tokensUsed.Load(),
		TokenRemaining:  tokenRemaining,
	}
}

// Reset zeroes every counter. Explicit call only; normal lifecycle resets
// are process restarts.
func (s *Stats) Reset() {
	s.totalRequests.Store(0)
	s.cacheHits.Store(0)
	s.escalations.Store(0)
	s.errors.Store(0)
	s.tokensUsed.Store(0)

	s.latencyMu.Lock()
	s.avgMs = 0
	s.samples = 0
	s.latencyMu.Unlock()
}
