package gating

import (
	"log/slog"

	"github.com/moodsense/moodsense/analysis/classifier"
	"github.com/moodsense/moodsense/analysis/confidence"
	"github.com/moodsense/moodsense/analysis/dedup"
)

// Decision reason strings, carried for observability.
const (
	ReasonDisabled        = "gating_disabled"
	ReasonConfident       = "heuristic_confident_no_escalation"
	ReasonLowConfidence   = "low_confidence_no_escalation"
	ReasonTextTooShort    = "text_too_short"
	ReasonDuplicate       = "duplicate_suppressed"
	ReasonRateLimited     = "rate_limited"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonApproved        = "escalation_approved"
)

// Decision is the gating outcome. Derived per request, never persisted.
type Decision struct {
	NeedsEscalation bool    `json:"needs_escalation"`
	Reason          string  `json:"reason"`
	Confidence      float64 `json:"confidence"`
	ReservedTokens  int64   `json:"-"`
}

// Config tunes the gating engine.
type Config struct {
	// Enabled is the administrative kill switch, evaluated before anything else.
	Enabled bool
	// Low and High bound the ambiguity band. Escalation is considered only
	// for Low <= confidence < High: ambiguity, not certainty, triggers it.
	Low  float64
	High float64
	// MinTextLength is the minimum informativeness threshold in characters.
	MinTextLength int
}

// DefaultConfig returns the default gating thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Low:           0.4,
		High:          0.75,
		MinTextLength: 20,
	}
}

// Engine evaluates escalation decisions.
type Engine struct {
	cfg     Config
	budget  Budget
	limiter *UserRateLimiter
	calc    *confidence.Calculator
	logger  *slog.Logger
}

// NewEngine creates a gating engine. budget and limiter may be nil, in which
// case the corresponding constraint always passes.
func NewEngine(cfg Config, budget Budget, limiter *UserRateLimiter, calc *confidence.Calculator, logger *slog.Logger) *Engine {
	if calc == nil {
		calc = confidence.NewCalculator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		budget:  budget,
		limiter: limiter,
		calc:    calc,
		logger:  logger,
	}
}

// Decide evaluates whether cls warrants escalation for userID. textLen is the
// normalized input length in characters. Constraints are checked cheapest
// first; the budget reservation happens last so a denied request never
// consumes allowance.
func (e *Engine) Decide(cls *classifier.Result, dup dedup.Result, userID string, textLen int) Decision {
	conf := e.decisionConfidence(cls, textLen)

	if !e.cfg.Enabled {
		return e.deny(ReasonDisabled, conf)
	}
	if cls.Confidence >= e.cfg.High {
		return e.deny(ReasonConfident, conf)
	}
	if cls.Confidence < e.cfg.Low {
		return e.deny(ReasonLowConfidence, conf)
	}
	if textLen < e.cfg.MinTextLength {
		return e.deny(ReasonTextTooShort, conf)
	}
	if dup.IsDuplicate {
		return e.deny(ReasonDuplicate, conf)
	}
	if e.limiter != nil && !e.limiter.Allow(userID) {
		return e.deny(ReasonRateLimited, conf)
	}

	reserve := estimateTokens(textLen)
	if e.budget != nil {
		ok, err := e.budget.TryReserve(reserve)
		if err != nil {
			// Unreachable budget collaborator: fail closed on spend.
			e.logger.Warn("budget check failed, treating as exhausted", "error", err)
			return e.deny(ReasonBudgetExhausted, conf)
		}
		if !ok {
			return e.deny(ReasonBudgetExhausted, conf)
		}
	}

	e.logger.Debug("escalation approved",
		"user_id", userID,
		"confidence", cls.Confidence,
		"reserved_tokens", reserve)
	return Decision{
		NeedsEscalation: true,
		Reason:          ReasonApproved,
		Confidence:      conf,
		ReservedTokens:  reserve,
	}
}

func (e *Engine) deny(reason string, conf float64) Decision {
	return Decision{NeedsEscalation: false, Reason: reason, Confidence: conf}
}

// decisionConfidence routes the gating trust score through the confidence
// calculator's aggregate table instead of re-deriving a local formula.
func (e *Engine) decisionConfidence(cls *classifier.Result, textLen int) float64 {
	return e.calc.Calculate(confidence.Params{
		Type:          confidence.TypeAggregate,
		BaseScore:     cls.Confidence,
		EvidenceCount: confidence.Int(len(cls.MatchedPatternIDs)),
		TextLength:    confidence.Int(textLen),
	})
}

// estimateTokens approximates the escalation cost from input length.
func estimateTokens(textLen int) int64 {
	return int64(textLen/4) + 64
}
