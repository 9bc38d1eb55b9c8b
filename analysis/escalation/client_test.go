package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *Outcome
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"category": "compulsion", "confidence": 0.82}`,
			want:    &Outcome{Category: "compulsion", Confidence: 0.82},
		},
		{
			name:    "markdown fenced json",
			content: "```json\n{\"category\": \"mood\", \"confidence\": 0.6, \"payload\": {\"valence\": \"negative\"}}\n```",
			want: &Outcome{
				Category:   "mood",
				Confidence: 0.6,
				Payload:    map[string]interface{}{"valence": "negative"},
			},
		},
		{
			name:    "prose around the object",
			content: `Here is my answer: {"category": "relaxation", "confidence": 0.7} hope that helps`,
			want:    &Outcome{Category: "relaxation", Confidence: 0.7},
		},
		{
			name:    "confidence clamped to the ceiling",
			content: `{"category": "other", "confidence": 1.7}`,
			want:    &Outcome{Category: "other", Confidence: 0.95},
		},
		{
			name:    "overconfident reply clamped to the ceiling",
			content: `{"category": "compulsion", "confidence": 0.99}`,
			want:    &Outcome{Category: "compulsion", Confidence: 0.95},
		},
		{
			name:    "missing category",
			content: `{"confidence": 0.9}`,
			wantErr: true,
		},
		{
			name:    "not json at all",
			content: "I cannot classify this entry.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOutcome(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
