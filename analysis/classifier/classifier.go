// Package classifier runs the pattern engine across the full category set,
// merges the evidence through the confidence calculator, and picks the
// winning category deterministically.
package classifier

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/moodsense/moodsense/analysis/confidence"
	"github.com/moodsense/moodsense/analysis/pattern"
)

// Route tells the caller what to do with a classification.
type Route string

const (
	RouteOpenScreen    Route = "open_screen"
	RouteAutoSave      Route = "auto_save"
	RouteSuggestAction Route = "suggest_action"
)

// Result is an immutable classification outcome.
type Result struct {
	Category          pattern.Category `json:"category"`
	Confidence        float64          `json:"confidence"` // 0-0.95
	Route             Route            `json:"route"`
	Payload           map[string]any   `json:"payload,omitempty"`
	MatchedPatternIDs []string         `json:"matched_pattern_ids,omitempty"`
	Abstained         bool             `json:"abstained"`
}

// Config tunes the classifier. Zero values fall back to defaults.
type Config struct {
	// RouteCutoffs maps each category to the confidence above which the
	// category's action route applies instead of silent auto-save.
	RouteCutoffs map[pattern.Category]float64
	Logger       *slog.Logger
}

// DefaultRouteCutoffs returns the per-category routing thresholds.
func DefaultRouteCutoffs() map[pattern.Category]float64 {
	return map[pattern.Category]float64{
		pattern.CategoryCompulsion: 0.5,
		pattern.CategoryDistortion: 0.55,
		pattern.CategoryRelaxation: 0.55,
		pattern.CategoryMood:       0.6,
	}
}

// Classifier is the heuristic (non-LLM) classification engine.
type Classifier struct {
	engine  *pattern.Engine
	calc    *confidence.Calculator
	cutoffs map[pattern.Category]float64
	logger  *slog.Logger
}

// New creates a Classifier. engine and calc are required.
func New(engine *pattern.Engine, calc *confidence.Calculator, cfg Config) *Classifier {
	cutoffs := cfg.RouteCutoffs
	if cutoffs == nil {
		cutoffs = DefaultRouteCutoffs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		engine:  engine,
		calc:    calc,
		cutoffs: cutoffs,
		logger:  logger,
	}
}

// categoryScore is one category scorer's output. Scorers share no mutable
// state; each writes only its own slot.
type categoryScore struct {
	category pattern.Category
	detail   confidence.Detail
	matches  []*pattern.Match
	scored   bool
}

// Classify classifies normalized input text. It never fails for well-formed
// input; the only error source is context cancellation. Malformed/empty input
// must be rejected before this stage.
func (c *Classifier) Classify(ctx context.Context, normalizedText string) (*Result, error) {
	return c.ClassifyForUser(ctx, normalizedText, "")
}

// ClassifyForUser is Classify with per-user pattern weight overrides applied.
func (c *Classifier) ClassifyForUser(ctx context.Context, normalizedText, userID string) (*Result, error) {
	cats := pattern.Categories()
	scores := make([]categoryScore, len(cats))
	textLen := len([]rune(normalizedText))

	// Fan out one scorer per category; results are combined commutatively by
	// max-confidence selection, so join order does not matter.
	g, ctx := errgroup.WithContext(ctx)
	for i, cat := range cats {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scores[i] = c.scoreCategory(normalizedText, textLen, cat, userID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Pick the winner. Strictly-greater comparison in declaration order makes
	// ties deterministic: the earlier category wins.
	var winner *categoryScore
	for i := range scores {
		s := &scores[i]
		if !s.scored {
			continue
		}
		if winner == nil || s.detail.Confidence > winner.detail.Confidence {
			winner = s
		}
	}
	if winner == nil {
		return c.fallbackResult(), nil
	}

	adjusted := c.adjust(winner.detail.Confidence, textLen, scores)

	ctype := typeFor(winner.category)
	abstained := winner.detail.ShouldAbstain || adjusted < c.calc.AbstainThreshold(ctype)

	res := &Result{
		Category:          winner.category,
		Confidence:        adjusted,
		Route:             c.route(winner.category, adjusted, abstained),
		Payload:           payloadFor(winner),
		MatchedPatternIDs: patternIDs(winner.matches),
		Abstained:         abstained,
	}
	c.logger.Debug("heuristic classification",
		"category", res.Category,
		"confidence", res.Confidence,
		"route", res.Route,
		"abstained", res.Abstained,
		"patterns", len(res.MatchedPatternIDs))
	return res, nil
}

func (c *Classifier) scoreCategory(text string, textLen int, cat pattern.Category, userID string) categoryScore {
	matches := c.engine.MatchForUser(text, cat, userID)
	if len(matches) == 0 {
		return categoryScore{category: cat}
	}
	detail := c.calc.CalculateWithDetail(confidence.Params{
		Type:          typeFor(cat),
		BaseScore:     matches[0].Confidence,
		EvidenceCount: confidence.Int(len(matches)),
		TextLength:    confidence.Int(textLen),
	})
	return categoryScore{
		category: cat,
		detail:   detail,
		matches:  matches,
		scored:   true,
	}
}

// adjust applies the fixed confidence adjustment policy, in order:
// short/long text multipliers, clear-signal bonus or mixed-signal penalty,
// then the hard cap.
func (c *Classifier) adjust(conf float64, textLen int, scores []categoryScore) float64 {
	switch {
	case textLen < 10:
		conf *= 0.7
	case textLen > 100:
		conf *= 1.1
	}

	above := 0
	for i := range scores {
		if scores[i].scored && scores[i].detail.Confidence > 0.3 {
			above++
		}
	}
	switch {
	case above == 1:
		conf *= 1.1
	case above > 2:
		conf *= 0.8
	}

	if conf > confidence.MaxConfidence {
		conf = confidence.MaxConfidence
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// route derives the output route from category and confidence via the fixed
// per-category cutoff table. Abstained results never drive automatic routing.
func (c *Classifier) route(cat pattern.Category, conf float64, abstained bool) Route {
	if abstained {
		return RouteAutoSave
	}
	cutoff, ok := c.cutoffs[cat]
	if !ok || conf <= cutoff {
		return RouteAutoSave
	}
	if cat == pattern.CategoryRelaxation {
		return RouteSuggestAction
	}
	return RouteOpenScreen
}

// RouteFor derives the route for an externally produced classification
// using the same per-category cutoffs as the heuristic path.
func (c *Classifier) RouteFor(cat pattern.Category, conf float64) Route {
	return c.route(cat, conf, false)
}

// fallbackResult is returned when no pattern scores above zero for any
// category: a low-confidence default that saves silently.
func (c *Classifier) fallbackResult() *Result {
	return &Result{
		Category:   pattern.CategoryOther,
		Confidence: 0.1,
		Route:      RouteAutoSave,
		Abstained:  true,
	}
}

func typeFor(cat pattern.Category) confidence.Type {
	if cat == pattern.CategoryMood {
		return confidence.TypeMood
	}
	return confidence.TypeCategory
}

func payloadFor(s *categoryScore) map[string]any {
	top := s.matches[0]
	payload := map[string]any{
		"top_pattern":   top.Pattern.ID,
		"matched_terms": top.MatchedTerms,
		"snippet":       top.Snippet,
	}
	switch s.category {
	case pattern.CategoryRelaxation:
		payload["suggestion"] = "breathing_exercise"
	case pattern.CategoryMood:
		payload["valence"] = valenceOf(top.Pattern.ID)
	}
	return payload
}

func valenceOf(patternID string) string {
	if strings.HasPrefix(patternID, "mood-negative") {
		return "negative"
	}
	return "positive"
}

func patternIDs(matches []*pattern.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Pattern.ID)
	}
	return ids
}
