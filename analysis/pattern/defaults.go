package pattern

// DefaultSpecs returns the built-in pattern tables for Turkish journal text.
// Weights and priorities are tuned so that a single strong signal clears the
// contribution threshold while incidental single-keyword hits do not.
func DefaultSpecs() []Spec {
	return []Spec{
		// Compulsion signals.
		{
			ID:       "compulsion-checking",
			Category: string(CategoryCompulsion),
			Keywords: []string{"kontrol", "kilitledim", "emin", "kez", "tekrar"},
			Regex:    `(iki|üç|dört|beş|kaç)\s+(kez|kere|defa)`,
			Weight:   0.9,
			Priority: 1,
		},
		{
			ID:       "compulsion-washing",
			Category: string(CategoryCompulsion),
			Keywords: []string{"yıkadım", "temizledim", "mikrop", "kirli", "ellerimi"},
			Weight:   0.85,
			Priority: 2,
		},
		{
			ID:       "compulsion-counting",
			Category: string(CategoryCompulsion),
			Keywords: []string{"saydım", "sayarak", "ritüel"},
			Weight:   0.8,
			Priority: 3,
		},

		// Cognitive-distortion signals.
		{
			ID:       "distortion-catastrophizing",
			Category: string(CategoryDistortion),
			Keywords: []string{"felaket", "mahvoldum", "korkunç", "dayanamam"},
			Weight:   0.85,
			Priority: 1,
		},
		{
			ID:       "distortion-all-or-nothing",
			Category: string(CategoryDistortion),
			Keywords: []string{"asla", "her zaman", "hiçbir zaman", "herkes", "hiç kimse"},
			Weight:   0.75,
			Priority: 2,
		},
		{
			ID:       "distortion-self-blame",
			Category: string(CategoryDistortion),
			Keywords: []string{"benim yüzümden", "suçluyum", "beceriksizim"},
			Weight:   0.85,
			Priority: 2,
		},

		// Relaxation-need signals.
		{
			ID:       "relaxation-stress",
			Category: string(CategoryRelaxation),
			Keywords: []string{"stres", "gergin", "bunaldım", "yorgun", "baskı"},
			Weight:   0.8,
			Priority: 1,
		},
		{
			ID:       "relaxation-need",
			Category: string(CategoryRelaxation),
			Keywords: []string{"nefes", "sakinleşmek", "dinlenmek", "rahatlamak"},
			Weight:   0.85,
			Priority: 2,
		},
		{
			ID:       "relaxation-sleep",
			Category: string(CategoryRelaxation),
			Keywords: []string{"uyuyamıyorum", "uykusuz"},
			Weight:   0.8,
			Priority: 3,
		},

		// Mood-valence signals. Two keywords per pattern so that a single
		// short valence word still clears the contribution threshold.
		{
			ID:       "mood-positive-strong",
			Category: string(CategoryMood),
			Keywords: []string{"harika", "mükemmel"},
			Weight:   0.9,
			Priority: 1,
		},
		{
			ID:       "mood-positive",
			Category: string(CategoryMood),
			Keywords: []string{"iyi", "güzel"},
			Weight:   0.8,
			Priority: 2,
		},
		{
			ID:       "mood-negative-strong",
			Category: string(CategoryMood),
			Keywords: []string{"berbat", "mutsuz"},
			Weight:   0.9,
			Priority: 1,
		},
		{
			ID:       "mood-negative",
			Category: string(CategoryMood),
			Keywords: []string{"kötü", "üzgün"},
			Weight:   0.8,
			Priority: 2,
		},
	}
}
