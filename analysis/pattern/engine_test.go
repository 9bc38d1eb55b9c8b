package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorePatternKeywordRule(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			ID:       "test-pattern",
			Category: string(CategoryCompulsion),
			Keywords: []string{"kontrol", "emin", "kilitledim", "kez"},
			Weight:   0.8,
			Priority: 1,
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		text     string
		wantHit  bool
		wantConf float64
	}{
		{
			name:    "single keyword below contribution threshold",
			text:    Normalize("sadece kontrol ettim"),
			wantHit: false, // 1/4 * 0.8 = 0.2 <= 0.3
		},
		{
			name:     "two keywords with repeat boost",
			text:     Normalize("kontrol ettim, emin olamadım"),
			wantHit:  true,
			wantConf: 2.0 / 4.0 * 0.8 * 1.1, // 0.44
		},
		{
			name:     "repeated keyword counts per occurrence",
			text:     Normalize("kontrol kontrol kontrol"),
			wantHit:  true,
			wantConf: 3.0 / 4.0 * 0.8 * 1.2, // 0.72
		},
		{
			name:    "no keywords at all",
			text:    Normalize("bugün hava çok güzeldi"),
			wantHit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := engine.Match(tt.text, CategoryCompulsion)
			if !tt.wantHit {
				assert.Empty(t, matches)
				return
			}
			require.Len(t, matches, 1)
			assert.InDelta(t, tt.wantConf, matches[0].Confidence, 1e-9)
		})
	}
}

func TestScorePatternRegexShortCircuit(t *testing.T) {
	engine := NewDefaultEngine()

	// Scenario: checking compulsion with an explicit repetition count.
	text := Normalize("Kapıyı kilitledim mi diye üç kez kontrol ettim")
	matches := engine.Match(text, CategoryCompulsion)
	require.NotEmpty(t, matches)

	top := matches[0]
	assert.Equal(t, "compulsion-checking", top.Pattern.ID)
	// Keyword score is 3/5*0.9*1.2 = 0.648; the regex lifts it to the full weight.
	assert.InDelta(t, 0.9, top.Confidence, 1e-9)
	assert.Contains(t, top.MatchedTerms, "kontrol")
	assert.Contains(t, top.MatchedTerms, "kilitledim")
	assert.NotEmpty(t, top.Snippet)
}

func TestMatchDeterminism(t *testing.T) {
	engine := NewDefaultEngine()
	text := Normalize("stres altındayım, nefes alamıyorum, uyuyamıyorum")

	first := engine.Match(text, CategoryRelaxation)
	require.NotEmpty(t, first)
	for i := 0; i < 10; i++ {
		again := engine.Match(text, CategoryRelaxation)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Pattern.ID, again[j].Pattern.ID)
			assert.Equal(t, first[j].Confidence, again[j].Confidence)
		}
	}
}

func TestTieBreakByPriority(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			ID:       "weak-signal",
			Category: string(CategoryDistortion),
			Keywords: []string{"felaket"},
			Weight:   0.72,
			Priority: 5,
		},
		{
			ID:       "strong-signal",
			Category: string(CategoryDistortion),
			Keywords: []string{"mahvoldum"},
			Weight:   0.78,
			Priority: 1,
		},
	})
	require.NoError(t, err)

	// Both patterns match once; confidences 0.72 and 0.78 sit inside the
	// tie band, so the lower priority number must come first even though
	// its raw confidence is lower... and here it is also the higher one.
	matches := engine.Match(Normalize("felaket oldu mahvoldum"), CategoryDistortion)
	require.Len(t, matches, 2)
	assert.Equal(t, "strong-signal", matches[0].Pattern.ID)

	// Outside the tie band raw confidence wins regardless of priority.
	engine2, err := NewEngine([]Spec{
		{
			ID:       "low-conf-high-prio",
			Category: string(CategoryDistortion),
			Keywords: []string{"felaket"},
			Weight:   0.4,
			Priority: 1,
		},
		{
			ID:       "high-conf-low-prio",
			Category: string(CategoryDistortion),
			Keywords: []string{"mahvoldum"},
			Weight:   0.9,
			Priority: 9,
		},
	})
	require.NoError(t, err)
	matches = engine2.Match(Normalize("felaket oldu mahvoldum"), CategoryDistortion)
	require.Len(t, matches, 2)
	assert.Equal(t, "high-conf-low-prio", matches[0].Pattern.ID)
}

func TestSnippetBoundaries(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			ID:       "snippet-pattern",
			Category: string(CategoryRelaxation),
			Keywords: []string{"nefes"},
			Weight:   0.9,
		},
	})
	require.NoError(t, err)

	t.Run("short text has no ellipsis", func(t *testing.T) {
		matches := engine.Match("nefes almak istiyorum", CategoryRelaxation)
		require.Len(t, matches, 1)
		assert.Equal(t, "nefes almak istiyorum", matches[0].Snippet)
	})

	t.Run("long text is ellipsis-truncated on both sides", func(t *testing.T) {
		prefix := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa "
		suffix := " bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
		matches := engine.Match(prefix+"nefes"+suffix, CategoryRelaxation)
		require.Len(t, matches, 1)
		snippet := []rune(matches[0].Snippet)
		assert.Equal(t, '…', snippet[0])
		assert.Equal(t, '…', snippet[len(snippet)-1])
		// 60 runes of context plus two ellipsis runes.
		assert.Len(t, snippet, 62)
	})
}

func TestAddRemovePattern(t *testing.T) {
	engine := NewDefaultEngine()

	spec := Spec{
		ID:       "compulsion-symmetry",
		Category: string(CategoryCompulsion),
		Keywords: []string{"simetri", "düzeltmek"},
		Weight:   0.7,
	}
	require.NoError(t, engine.AddPattern(spec))
	assert.Error(t, engine.AddPattern(spec), "duplicate id must be rejected")

	matches := engine.Match(Normalize("simetri bozuldu, düzeltmek zorundayım"), CategoryCompulsion)
	require.NotEmpty(t, matches)
	assert.Equal(t, "compulsion-symmetry", matches[0].Pattern.ID)

	assert.True(t, engine.RemovePattern("compulsion-symmetry"))
	assert.False(t, engine.RemovePattern("compulsion-symmetry"))
}

func TestCompileSpecValidation(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"missing id", Spec{Category: string(CategoryMood), Keywords: []string{"iyi"}, Weight: 0.5}},
		{"invalid category", Spec{ID: "x", Category: "bogus", Keywords: []string{"iyi"}, Weight: 0.5}},
		{"other is not scorable", Spec{ID: "x", Category: string(CategoryOther), Keywords: []string{"iyi"}, Weight: 0.5}},
		{"no keywords", Spec{ID: "x", Category: string(CategoryMood), Weight: 0.5}},
		{"weight out of range", Spec{ID: "x", Category: string(CategoryMood), Keywords: []string{"iyi"}, Weight: 1.5}},
		{"bad regex", Spec{ID: "x", Category: string(CategoryMood), Keywords: []string{"iyi"}, Weight: 0.5, Regex: "("}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine([]Spec{tt.spec})
			assert.Error(t, err)
		})
	}
}

func TestUserWeightOverrides(t *testing.T) {
	engine := NewDefaultEngine()
	text := Normalize("bugün çok iyi hissediyorum güzel bir gündü")

	base := engine.Match(text, CategoryMood)
	require.NotEmpty(t, base)

	engine.SetUserWeights("u1", map[string]float64{"mood-positive": 0.5})
	overridden := engine.MatchForUser(text, CategoryMood, "u1")
	require.NotEmpty(t, overridden)
	assert.Less(t, overridden[0].Confidence, base[0].Confidence)

	// Other users are unaffected.
	other := engine.MatchForUser(text, CategoryMood, "u2")
	assert.Equal(t, base[0].Confidence, other[0].Confidence)

	// Clearing restores defaults.
	engine.SetUserWeights("u1", nil)
	cleared := engine.MatchForUser(text, CategoryMood, "u1")
	assert.Equal(t, base[0].Confidence, cleared[0].Confidence)
}

func TestBestMatchCrossCategory(t *testing.T) {
	engine := NewDefaultEngine()

	cat, match, ok := engine.BestMatch(Normalize("üç kez kontrol ettim, kilitledim mi emin değilim"))
	require.True(t, ok)
	assert.Equal(t, CategoryCompulsion, cat)
	assert.Equal(t, "compulsion-checking", match.Pattern.ID)

	_, _, ok = engine.BestMatch(Normalize("alakasız bir cümle"))
	assert.False(t, ok)
}
