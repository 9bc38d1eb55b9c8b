// Package pattern provides weighted keyword/regex matching of journal text
// against the therapeutic category set.
package pattern

import (
	"regexp"
	"strings"
	"unicode"
)

// Category identifies one therapeutic category.
type Category string

const (
	CategoryCompulsion Category = "compulsion"
	CategoryDistortion Category = "distortion"
	CategoryRelaxation Category = "relaxation"
	CategoryMood       Category = "mood"
	// CategoryOther is the fallback category. It owns no patterns and is
	// never scored; classification defaults to it when nothing matches.
	CategoryOther Category = "other"
)

// Categories returns the scorable categories in declaration order.
// Declaration order is the documented tie-break order: when two categories
// score equally, the earlier one wins.
func Categories() []Category {
	return []Category{
		CategoryCompulsion,
		CategoryDistortion,
		CategoryRelaxation,
		CategoryMood,
	}
}

// Valid reports whether c is a known category (including the fallback).
func (c Category) Valid() bool {
	switch c {
	case CategoryCompulsion, CategoryDistortion, CategoryRelaxation, CategoryMood, CategoryOther:
		return true
	}
	return false
}

// Pattern describes one linguistic signal for one category.
// Patterns are immutable after registration; AddPattern/RemovePattern are
// admin operations, never called on the request path.
type Pattern struct {
	ID       string
	Category Category
	Keywords []string
	Regex    *regexp.Regexp // optional
	Weight   float64        // 0-1
	Priority int            // lower number = stronger signal, used as tie-break
}

// Match is the result of scoring one pattern against one text.
// Produced and consumed within a single classification call.
type Match struct {
	Pattern      *Pattern
	Confidence   float64 // 0-1
	MatchedTerms []string
	Positions    []int  // rune offsets of first occurrence per matched term
	Snippet      string // ±30 chars of context around the first match
}

// Spec is the serializable form of a Pattern, as loaded from YAML.
type Spec struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	Regex    string   `yaml:"regex,omitempty"`
	Weight   float64  `yaml:"weight"`
	Priority int      `yaml:"priority,omitempty"`
}

// Normalize canonicalizes free text for matching and fingerprinting:
// Turkish-aware lowercasing, punctuation stripped (diacritics kept),
// whitespace collapsed to single spaces.
func Normalize(s string) string {
	s = strings.ToLowerSpecial(unicode.TurkishCase, s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			// Punctuation separates words but never joins them.
			pendingSpace = true
		}
	}
	return b.String()
}
