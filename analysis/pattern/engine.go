package pattern

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
)

const (
	// contributionThreshold is the minimum score for a pattern to produce a Match.
	contributionThreshold = 0.3
	// tieBand is the confidence distance within which priority breaks ties.
	tieBand = 0.1
	// snippetRadius is the number of runes of context kept around the first match.
	snippetRadius = 30
	// repeatBoost is the per-repeat confidence multiplier increment.
	repeatBoost = 0.1
)

// Engine scores normalized text against per-category pattern tables.
// Tables are immutable on the request path; AddPattern/RemovePattern are
// rare admin operations guarded by a RWMutex.
type Engine struct {
	mu     sync.RWMutex
	tables map[Category][]*Pattern

	// Optional per-user weight overrides: userID -> patternID -> weight.
	weightsMu   sync.RWMutex
	userWeights map[string]map[string]float64
}

// NewEngine builds an engine from pattern specs. Regexes are compiled and
// keywords normalized once at construction.
func NewEngine(specs []Spec) (*Engine, error) {
	e := &Engine{
		tables:      make(map[Category][]*Pattern),
		userWeights: make(map[string]map[string]float64),
	}
	for _, s := range specs {
		p, err := compileSpec(s)
		if err != nil {
			return nil, err
		}
		e.tables[p.Category] = append(e.tables[p.Category], p)
	}
	return e, nil
}

// NewDefaultEngine builds an engine from the built-in pattern tables.
func NewDefaultEngine() *Engine {
	e, err := NewEngine(DefaultSpecs())
	if err != nil {
		// Built-in specs are covered by tests; a compile failure here is a bug.
		panic(err)
	}
	return e
}

func compileSpec(s Spec) (*Pattern, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("pattern: missing id")
	}
	cat := Category(s.Category)
	if !cat.Valid() || cat == CategoryOther {
		return nil, fmt.Errorf("pattern %s: invalid category %q", s.ID, s.Category)
	}
	if len(s.Keywords) == 0 {
		return nil, fmt.Errorf("pattern %s: no keywords", s.ID)
	}
	if s.Weight <= 0 || s.Weight > 1 {
		return nil, fmt.Errorf("pattern %s: weight %v out of (0,1]", s.ID, s.Weight)
	}
	p := &Pattern{
		ID:       s.ID,
		Category: cat,
		Weight:   s.Weight,
		Priority: s.Priority,
	}
	for _, kw := range s.Keywords {
		if n := Normalize(kw); n != "" {
			p.Keywords = append(p.Keywords, n)
		}
	}
	if len(p.Keywords) == 0 {
		return nil, fmt.Errorf("pattern %s: keywords normalize to empty", s.ID)
	}
	if s.Regex != "" {
		re, err := regexp.Compile(s.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", s.ID, err)
		}
		p.Regex = re
	}
	return p, nil
}

// AddPattern registers a pattern at runtime. Admin operation.
func (e *Engine) AddPattern(s Spec) error {
	p, err := compileSpec(s)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.tables[p.Category] {
		if existing.ID == p.ID {
			return fmt.Errorf("pattern %s: already registered", p.ID)
		}
	}
	e.tables[p.Category] = append(e.tables[p.Category], p)
	return nil
}

// RemovePattern unregisters a pattern by ID. Admin operation.
// Returns true if a pattern was removed.
func (e *Engine) RemovePattern(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for cat, ps := range e.tables {
		for i, p := range ps {
			if p.ID == id {
				e.tables[cat] = append(ps[:i:i], ps[i+1:]...)
				return true
			}
		}
	}
	return false
}

// SetUserWeights installs per-user weight overrides keyed by pattern ID.
// Passing a nil map clears the user's overrides.
func (e *Engine) SetUserWeights(userID string, weights map[string]float64) {
	e.weightsMu.Lock()
	defer e.weightsMu.Unlock()
	if weights == nil {
		delete(e.userWeights, userID)
		return
	}
	cp := make(map[string]float64, len(weights))
	for id, w := range weights {
		cp[id] = w
	}
	e.userWeights[userID] = cp
}

func (e *Engine) weightFor(userID string, p *Pattern) float64 {
	if userID == "" {
		return p.Weight
	}
	e.weightsMu.RLock()
	defer e.weightsMu.RUnlock()
	if overrides, ok := e.userWeights[userID]; ok {
		if w, ok := overrides[p.ID]; ok && w > 0 && w <= 1 {
			return w
		}
	}
	return p.Weight
}

// Match scores normalized text against one category's patterns.
// Results are ordered by confidence descending; within the tie band the
// lower-priority-number pattern wins.
func (e *Engine) Match(text string, category Category) []*Match {
	return e.MatchForUser(text, category, "")
}

// MatchForUser is Match with per-user weight overrides applied.
func (e *Engine) MatchForUser(text string, category Category, userID string) []*Match {
	e.mu.RLock()
	patterns := e.tables[category]
	e.mu.RUnlock()

	runes := []rune(text)
	var matches []*Match
	for _, p := range patterns {
		if m := scorePattern(text, runes, p, e.weightFor(userID, p)); m != nil {
			matches = append(matches, m)
		}
	}
	sortMatches(matches)
	return matches
}

// MatchAll scores normalized text against every category.
func (e *Engine) MatchAll(text string) map[Category][]*Match {
	return e.MatchAllForUser(text, "")
}

// MatchAllForUser is MatchAll with per-user weight overrides applied.
func (e *Engine) MatchAllForUser(text string, userID string) map[Category][]*Match {
	out := make(map[Category][]*Match, len(Categories()))
	for _, cat := range Categories() {
		if ms := e.MatchForUser(text, cat, userID); len(ms) > 0 {
			out[cat] = ms
		}
	}
	return out
}

// BestMatch returns the single strongest match across all categories.
// Ties across categories go to the earlier-declared category.
func (e *Engine) BestMatch(text string) (Category, *Match, bool) {
	var bestCat Category
	var best *Match
	for _, cat := range Categories() {
		ms := e.Match(text, cat)
		if len(ms) == 0 {
			continue
		}
		if best == nil || ms[0].Confidence > best.Confidence {
			best = ms[0]
			bestCat = cat
		}
	}
	if best == nil {
		return "", nil, false
	}
	return bestCat, best, true
}

// scorePattern implements the scoring rule:
// score = (occurrences/len(keywords)) * weight, boosted 1+0.1*(occurrences-1)
// for repeated hits; a matching regex short-circuits to max(keywordScore, weight).
func scorePattern(text string, runes []rune, p *Pattern, weight float64) *Match {
	occurrences := 0
	var matchedTerms []string
	var positions []int
	firstPos := -1

	for _, kw := range p.Keywords {
		count, pos := countOccurrences(runes, []rune(kw))
		if count == 0 {
			continue
		}
		occurrences += count
		matchedTerms = append(matchedTerms, kw)
		positions = append(positions, pos)
		if firstPos < 0 || pos < firstPos {
			firstPos = pos
		}
	}

	score := 0.0
	if occurrences > 0 {
		score = float64(occurrences) / float64(len(p.Keywords)) * weight
		if occurrences > 1 {
			score *= 1 + repeatBoost*float64(occurrences-1)
		}
	}
	if p.Regex != nil && p.Regex.MatchString(text) {
		score = math.Max(score, weight)
		if firstPos < 0 {
			if loc := p.Regex.FindStringIndex(text); loc != nil {
				firstPos = len([]rune(text[:loc[0]]))
			}
		}
	}
	if score <= contributionThreshold {
		return nil
	}

	return &Match{
		Pattern:      p,
		Confidence:   math.Min(score, 1.0),
		MatchedTerms: matchedTerms,
		Positions:    positions,
		Snippet:      snippet(runes, firstPos),
	}
}

// countOccurrences counts case-folded substring occurrences, allowing
// overlapping repeats, and returns the first rune offset (-1 if none).
func countOccurrences(text, sub []rune) (int, int) {
	if len(sub) == 0 || len(sub) > len(text) {
		return 0, -1
	}
	count := 0
	first := -1
	for i := 0; i+len(sub) <= len(text); i++ {
		if runesEqual(text[i:i+len(sub)], sub) {
			if first < 0 {
				first = i
			}
			count++
		}
	}
	return count, first
}

func runesEqual(a, b []rune) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// snippet extracts ±snippetRadius runes of context around pos,
// ellipsis-truncated at text boundaries.
func snippet(runes []rune, pos int) string {
	if pos < 0 || len(runes) == 0 {
		return ""
	}
	start := pos - snippetRadius
	end := pos + snippetRadius
	prefix, suffix := "", ""
	if start < 0 {
		start = 0
	} else if start > 0 {
		prefix = "…"
	}
	if end > len(runes) {
		end = len(runes)
	} else if end < len(runes) {
		suffix = "…"
	}
	return prefix + string(runes[start:end]) + suffix
}

func sortMatches(matches []*Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if math.Abs(a.Confidence-b.Confidence) <= tieBand && a.Pattern.Priority != b.Pattern.Priority {
			return a.Pattern.Priority < b.Pattern.Priority
		}
		return a.Confidence > b.Confidence
	})
}
