// Package confidence turns raw classification evidence into a bounded
// confidence score plus an abstention flag. It is the single source of truth
// for "is this classification trustworthy enough to act on": downstream
// components must consult it instead of re-deriving their own thresholds.
package confidence

import (
	"math"
)

// Type selects the weight table for a classification kind.
type Type string

const (
	// TypeCategory scores a single therapeutic-category classification.
	TypeCategory Type = "category"
	// TypeMood scores mood-valence classifications, which need more caution.
	TypeMood Type = "mood"
	// TypeAggregate scores a combined, cross-signal decision.
	TypeAggregate Type = "aggregate"
)

// MaxConfidence is the hard upper bound on any confidence value.
const MaxConfidence = 0.95

// globalAbstainThreshold is the floor below which low-evidence results
// abstain regardless of type.
const globalAbstainThreshold = 0.4

// Weights is the fixed weight table for one classification type.
type Weights struct {
	Base         float64
	Evidence     float64
	Length       float64
	Quality      float64
	MinEvidence  int
	AbstainBelow float64
}

var weightTables = map[Type]Weights{
	TypeCategory:  {Base: 0.7, Evidence: 0.25, Length: 0.15, Quality: 0.1, MinEvidence: 2, AbstainBelow: 0.35},
	TypeMood:      {Base: 0.65, Evidence: 0.25, Length: 0.15, Quality: 0.1, MinEvidence: 2, AbstainBelow: 0.35},
	TypeAggregate: {Base: 0.6, Evidence: 0.3, Length: 0.1, Quality: 0.15, MinEvidence: 3, AbstainBelow: 0.3},
}

// Params carries the raw evidence for one calculation.
// Optional signals are pointers; nil means "not supplied" and contributes
// neither score nor uncertainty.
type Params struct {
	Type      Type
	BaseScore float64 // 0-1, e.g. best pattern-match confidence

	EvidenceCount *int     // pattern hits, sample counts
	TextLength    *int     // characters of normalized input
	Quality       *float64 // 0-1 external quality signal
	SampleSize    *int     // observations backing an external signal
	Correlation   *float64 // 0-1 correlation strength
}

// Detail is the full calculation output.
type Detail struct {
	Confidence    float64
	Uncertainty   float64
	Factors       map[string]float64
	ShouldAbstain bool
}

// Int returns a pointer to n, for optional Params fields.
func Int(n int) *int { return &n }

// Float returns a pointer to f, for optional Params fields.
func Float(f float64) *float64 { return &f }

// Calculator computes bounded confidence scores from fixed weight tables.
type Calculator struct{}

// NewCalculator returns a Calculator.
func NewCalculator() *Calculator { return &Calculator{} }

// AbstainThreshold returns the per-type abstention floor. Callers that adjust
// a confidence after calculation must re-check it against this threshold.
func (c *Calculator) AbstainThreshold(t Type) float64 {
	return weightsFor(t).AbstainBelow
}

// Calculate returns the final bounded confidence for params.
func (c *Calculator) Calculate(p Params) float64 {
	return c.CalculateWithDetail(p).Confidence
}

// CalculateWithDetail returns confidence, uncertainty, the contributing
// factors, and the abstention decision.
func (c *Calculator) CalculateWithDetail(p Params) Detail {
	w := weightsFor(p.Type)
	factors := make(map[string]float64, 4)

	score := w.Base * clamp01(p.BaseScore)
	factors["base"] = score

	if p.EvidenceCount != nil {
		es := evidenceScore(*p.EvidenceCount, w.MinEvidence)
		factors["evidence"] = w.Evidence * es
		score += factors["evidence"]
	}

	if p.TextLength != nil {
		ls := lengthScore(*p.TextLength)
		factors["length"] = w.Length * ls
		score += factors["length"]
	}

	// Quality-style signals fold in as the max of their individual
	// contributions so they are never double counted.
	if q, ok := qualitySignal(p); ok {
		factors["quality"] = w.Quality * q
		score += factors["quality"]
	}

	uncertainty := c.uncertainty(p, w)
	conf := clamp(score*(1-uncertainty), 0, MaxConfidence)

	abstain := conf < w.AbstainBelow
	if p.EvidenceCount != nil {
		count := *p.EvidenceCount
		if float64(count) < 0.5*float64(w.MinEvidence) {
			abstain = true
		}
		if conf < globalAbstainThreshold && count < 2 {
			abstain = true
		}
	}

	return Detail{
		Confidence:    conf,
		Uncertainty:   uncertainty,
		Factors:       factors,
		ShouldAbstain: abstain,
	}
}

// uncertainty sums penalty terms for low-evidence, short-text, low-quality
// and small-sample conditions, capped at 0.5.
func (c *Calculator) uncertainty(p Params, w Weights) float64 {
	u := 0.0
	if p.EvidenceCount != nil && *p.EvidenceCount < w.MinEvidence {
		count := *p.EvidenceCount
		if count < 0 {
			count = 0
		}
		u += 0.15 * (1 - float64(count)/float64(w.MinEvidence))
	}
	if p.TextLength != nil {
		switch l := *p.TextLength; {
		case l < 20:
			u += 0.15
		case l < 50:
			u += 0.05
		}
	}
	if p.Quality != nil && *p.Quality < 0.5 {
		u += 0.1
	}
	if p.SampleSize != nil && *p.SampleSize < 10 {
		u += 0.1
	}
	return math.Min(u, 0.5)
}

// evidenceScore penalizes linearly below minEvidence and grows
// logarithmically above it.
func evidenceScore(count, minEvidence int) float64 {
	if count <= 0 {
		return 0
	}
	if minEvidence <= 0 {
		minEvidence = 1
	}
	if count < minEvidence {
		return 0.5 * float64(count) / float64(minEvidence)
	}
	return math.Min(1, 0.5+math.Log10(float64(count)/float64(minEvidence)+1)*0.5)
}

// lengthScore is a monotonic step function: very short text contributes
// near 0.3, text of 500+ chars contributes 1.0.
func lengthScore(l int) float64 {
	switch {
	case l < 20:
		return 0.3
	case l < 100:
		return 0.6
	case l < 300:
		return 0.8
	case l < 500:
		return 0.9
	default:
		return 1.0
	}
}

func qualitySignal(p Params) (float64, bool) {
	best := -1.0
	if p.Quality != nil {
		best = math.Max(best, clamp01(*p.Quality))
	}
	if p.SampleSize != nil {
		best = math.Max(best, math.Min(1, float64(*p.SampleSize)/50))
	}
	if p.Correlation != nil {
		best = math.Max(best, clamp01(*p.Correlation))
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func weightsFor(t Type) Weights {
	if w, ok := weightTables[t]; ok {
		return w
	}
	return weightTables[TypeCategory]
}

func clamp01(f float64) float64 { return clamp(f, 0, 1) }

func clamp(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
