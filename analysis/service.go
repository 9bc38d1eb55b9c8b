package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/moodsense/moodsense/analysis/cache"
	"github.com/moodsense/moodsense/analysis/classifier"
	"github.com/moodsense/moodsense/analysis/confidence"
	"github.com/moodsense/moodsense/analysis/dedup"
	"github.com/moodsense/moodsense/analysis/escalation"
	"github.com/moodsense/moodsense/analysis/gating"
	"github.com/moodsense/moodsense/analysis/metrics"
	"github.com/moodsense/moodsense/analysis/pattern"
	"github.com/moodsense/moodsense/analysis/stats"
)

// Config wires the pipeline collaborators. Classifier, Dedup and Gate are
// required; the rest degrade gracefully when nil.
type Config struct {
	Classifier *classifier.Classifier
	Dedup      *dedup.Deduplicator
	Gate       *gating.Engine
	Budget     *gating.TokenBudget // settles escalation reservations
	Escalator  escalation.Client   // nil disables the external stage
	Cache      *cache.Layer
	Stats      *stats.Stats
	Metrics    *metrics.Exporter
	Logger     *slog.Logger

	// RespectQuietHours downgrades suggest_action to auto_save inside the
	// [QuietStart, QuietEnd) local-time window.
	RespectQuietHours bool
	QuietStart        int
	QuietEnd          int
}

// Service runs the analysis pipeline.
type Service struct {
	classifier *classifier.Classifier
	dedup      *dedup.Deduplicator
	gate       *gating.Engine
	budget     *gating.TokenBudget
	escalator  escalation.Client
	cache      *cache.Layer
	stats      *stats.Stats
	metrics    *metrics.Exporter
	logger     *slog.Logger

	quietEnabled bool
	quietStart   int
	quietEnd     int

	now func() time.Time // test seam
}

// NewService creates the pipeline service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := cfg.Stats
	if st == nil {
		st = stats.New()
	}
	return &Service{
		classifier:   cfg.Classifier,
		dedup:        cfg.Dedup,
		gate:         cfg.Gate,
		budget:       cfg.Budget,
		escalator:    cfg.Escalator,
		cache:        cfg.Cache,
		stats:        st,
		metrics:      cfg.Metrics,
		logger:       logger,
		quietEnabled: cfg.RespectQuietHours,
		quietStart:   cfg.QuietStart,
		quietEnd:     cfg.QuietEnd,
		now:          time.Now,
	}
}

// Analyze runs one entry through the pipeline. It always returns a usable
// Result for valid input; internal failures degrade to a conservative
// auto-save fallback instead of an error.
func (s *Service) Analyze(ctx context.Context, in Input) (res *Result, err error) {
	start := s.now()
	requestID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("analysis panicked, degrading to fallback",
				"request_id", requestID, "panic", r)
			s.stats.RecordError()
			res = s.fallback(requestID, start)
			err = nil
		}
		if res != nil {
			s.finish(res, start)
		}
	}()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	normalized := pattern.Normalize(in.Content)
	hash := dedup.Fingerprint(normalized)
	ts := in.Timestamp
	if ts.IsZero() {
		ts = start
	}
	bucketName := bucketFor(in.Kind)
	key := cache.Key(bucketName, in.UserID, ts, hash)

	if cached, ok := s.cacheGet(ctx, bucketName, key); ok {
		cached.Source = SourceCache
		cached.CacheKey = key
		cached.Debug = &DebugInfo{RequestID: requestID}
		s.stats.RecordCacheHit()
		return cached, nil
	}

	dup := s.dedup.CheckAndRecord(in.UserID, normalized)
	if dup.IsDuplicate {
		// A near-repeat within the window is not worth re-classifying:
		// answer with a cheap generic save and move on.
		if s.metrics != nil {
			s.metrics.RecordDecision(gating.ReasonDuplicate)
		}
		s.logger.Debug("duplicate entry, skipping classification",
			"request_id", requestID, "last_seen", dup.LastSeenAt)
		return &Result{
			Category:   pattern.CategoryOther,
			Confidence: 0,
			Route:      classifier.RouteAutoSave,
			CacheKey:   key,
			ComputedAt: start,
			Source:     SourceHeuristic,
			Debug:      &DebugInfo{RequestID: requestID, Reason: gating.ReasonDuplicate},
		}, nil
	}

	cls, clsErr := s.classifier.ClassifyForUser(ctx, normalized, in.UserID)
	if clsErr != nil {
		s.logger.Error("classification failed", "request_id", requestID, "error", clsErr)
		s.stats.RecordError()
		return s.fallback(requestID, start), nil
	}

	textLen := utf8.RuneCountInString(normalized)
	decision := s.gate.Decide(cls, dup, in.UserID, textLen)
	if s.metrics != nil {
		s.metrics.RecordDecision(decision.Reason)
	}

	res = &Result{
		Category:        cls.Category,
		Confidence:      cls.Confidence,
		NeedsEscalation: decision.NeedsEscalation,
		Route:           cls.Route,
		Payload:         cls.Payload,
		CacheKey:        key,
		ComputedAt:      start,
		Source:          SourceHeuristic,
		Debug:           &DebugInfo{RequestID: requestID, Reason: decision.Reason},
	}

	if decision.NeedsEscalation && s.escalator != nil {
		if out := s.escalate(ctx, requestID, in, decision.ReservedTokens); out != nil {
			res = out
			res.CacheKey = key
			res.ComputedAt = start
		}
	}

	s.applyQuietHours(res, start)
	s.cacheWrite(ctx, bucketName, key, res)
	return res, nil
}

// escalate calls the external model and settles the token reservation.
// A nil return means the heuristic result stands.
func (s *Service) escalate(ctx context.Context, requestID string, in Input, reserved int64) *Result {
	out, err := s.escalator.Analyze(ctx, in.Content, in.Locale)
	if err != nil {
		// Timeout or provider failure: return the reservation and keep
		// the heuristic result.
		if s.budget != nil {
			s.budget.Record(0, reserved)
		}
		s.logger.Warn("escalation failed, keeping heuristic result",
			"request_id", requestID, "error", err)
		return nil
	}

	if s.budget != nil {
		s.budget.Record(out.TokensUsed, reserved)
	}
	s.stats.RecordEscalation(out.TokensUsed)
	if s.metrics != nil {
		s.metrics.RecordTokens(out.TokensUsed)
		if s.budget != nil {
			s.metrics.SetBudgetRemaining(s.budget.Remaining())
		}
	}

	cat, ok := parseCategory(out.Category)
	if !ok {
		s.logger.Warn("escalation returned unknown category, keeping heuristic result",
			"request_id", requestID, "category", out.Category)
		return nil
	}

	// External confidences obey the same ceiling as heuristic ones.
	conf := out.Confidence
	if conf > confidence.MaxConfidence {
		s.logger.Warn("escalated confidence above ceiling, clamping",
			"request_id", requestID, "confidence", conf)
		conf = confidence.MaxConfidence
	}
	if conf < 0 {
		conf = 0
	}

	payload := make(map[string]any, len(out.Payload))
	for k, v := range out.Payload {
		payload[k] = v
	}

	return &Result{
		Category:        cat,
		Confidence:      conf,
		NeedsEscalation: false,
		Route:           s.classifier.RouteFor(cat, conf),
		Payload:         payload,
		Source:          SourceEscalated,
		Debug:           &DebugInfo{RequestID: requestID, Reason: gating.ReasonApproved},
	}
}

// HandleEvent applies a domain invalidation event to the cache.
func (s *Service) HandleEvent(ctx context.Context, event, userID string) int {
	if s.cache == nil {
		return 0
	}
	return s.cache.HandleEvent(ctx, event, userID)
}

// Stats returns the pipeline counters.
func (s *Service) Stats() stats.Snapshot {
	var remaining int64
	if s.budget != nil {
		remaining = s.budget.Remaining()
	}
	return s.stats.Snapshot(remaining)
}

// CacheStats returns cache-layer counters, or zero values without a cache.
func (s *Service) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

func (s *Service) cacheGet(ctx context.Context, bucketName, key string) (*Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok := s.cache.Get(ctx, bucketName, key)
	if !ok {
		// Escalated results are also kept in the insights bucket; a second
		// look there saves repeating the external call.
		if bucketName != cache.BucketInsights {
			data, ok = s.cache.Get(ctx, cache.BucketInsights, key)
		}
		if !ok {
			if s.metrics != nil {
				s.metrics.RecordCacheMiss(bucketName)
			}
			return nil, false
		}
	}
	if s.metrics != nil {
		s.metrics.RecordCacheHit(bucketName)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		s.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return &res, true
}

func (s *Service) cacheWrite(ctx context.Context, bucketName, key string, res *Result) {
	if s.cache == nil {
		return
	}
	// Strip per-request fields so a later hit reports its own identity.
	stored := *res
	stored.Debug = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		s.logger.Warn("cache write skipped", "key", key, "error", err)
		return
	}
	s.cache.Set(ctx, bucketName, key, data, 0)
	if res.Source == SourceEscalated && bucketName != cache.BucketInsights {
		s.cache.Set(ctx, cache.BucketInsights, key, data, 0)
	}
}

// applyQuietHours downgrades nudges during the configured window. The
// category and confidence stay untouched; only the route softens.
func (s *Service) applyQuietHours(res *Result, now time.Time) {
	if !s.quietEnabled || res.Route != classifier.RouteSuggestAction {
		return
	}
	if inWindow(now.Hour(), s.quietStart, s.quietEnd) {
		res.Route = classifier.RouteAutoSave
		if res.Debug != nil {
			res.Debug.Reason = "quiet_hours"
		}
	}
}

func (s *Service) fallback(requestID string, start time.Time) *Result {
	return &Result{
		Category:   pattern.CategoryOther,
		Confidence: 0,
		Route:      classifier.RouteAutoSave,
		ComputedAt: start,
		Source:     SourceHeuristic,
		Degraded:   true,
		Debug:      &DebugInfo{RequestID: requestID, Reason: "internal_error"},
	}
}

func (s *Service) finish(res *Result, start time.Time) {
	elapsed := s.now().Sub(start)
	if res.Debug != nil {
		res.Debug.LatencyMs = elapsed.Milliseconds()
	}
	s.stats.RecordRequest(float64(elapsed.Microseconds()) / 1000.0)
	if s.metrics != nil {
		s.metrics.RecordRequest(string(res.Source), string(res.Route), elapsed)
	}
}

func bucketFor(kind Kind) string {
	if kind == KindVoice {
		return cache.BucketVoice
	}
	return cache.BucketPatterns
}

func parseCategory(name string) (pattern.Category, bool) {
	cat := pattern.Category(name)
	if cat.Valid() {
		return cat, true
	}
	return "", false
}

// inWindow reports whether hour falls in [start, end), wrapping midnight.
func inWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
