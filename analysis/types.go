// Package analysis orchestrates the full journal-entry pipeline: cache
// lookup, dedup, heuristic classification, escalation gating, the optional
// external model call, and the cache write-back.
package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/moodsense/moodsense/analysis/classifier"
	"github.com/moodsense/moodsense/analysis/pattern"
)

// Kind is the input modality.
type Kind string

const (
	KindVoice  Kind = "voice" // transcribed voice note
	KindText   Kind = "text"
	KindSensor Kind = "sensor" // wearable-originated note
)

// Input is one analysis request.
type Input struct {
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	UserID    string            `json:"user_id"`
	Locale    string            `json:"locale,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate rejects malformed input before any pipeline stage runs.
func (in *Input) Validate() error {
	switch in.Kind {
	case KindVoice, KindText, KindSensor:
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", in.Kind)}
	}
	if strings.TrimSpace(in.Content) == "" {
		return &ValidationError{Field: "content", Reason: "empty content"}
	}
	if in.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "missing user id"}
	}
	return nil
}

// ValidationError marks input the pipeline refused to process. Callers map
// it to a 400 rather than a 500.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Source tells where a result came from.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceEscalated Source = "escalated"
	SourceCache     Source = "cache"
)

// DebugInfo carries per-request observability fields.
type DebugInfo struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Result is the pipeline output for one entry.
type Result struct {
	Category        pattern.Category `json:"category"`
	Confidence      float64          `json:"confidence"`
	NeedsEscalation bool             `json:"needs_escalation"`
	Route           classifier.Route `json:"route"`
	Payload         map[string]any   `json:"payload,omitempty"`
	CacheKey        string           `json:"cache_key,omitempty"`
	ComputedAt      time.Time        `json:"computed_at"`
	Source          Source           `json:"source"`
	Degraded        bool             `json:"degraded,omitempty"`
	Debug           *DebugInfo       `json:"debug,omitempty"`
}
