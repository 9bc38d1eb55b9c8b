// Package escalation calls an external language model when the heuristic
// pipeline is not confident enough to route an entry on its own.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/moodsense/moodsense/analysis/confidence"
)

// Outcome is the model's classification of one journal entry.
type Outcome struct {
	Category   string                 `json:"category"`
	Confidence float64                `json:"confidence"`
	Payload    map[string]interface{} `json:"payload,omitempty"`

	// TokensUsed is the total token count reported by the provider,
	// used to settle the reservation against the daily budget.
	TokensUsed int64 `json:"-"`
}

// Client performs one escalated analysis round-trip.
type Client interface {
	Analyze(ctx context.Context, text, locale string) (*Outcome, error)
}

// Config configures the OpenAI-compatible escalation client.
type Config struct {
	APIKey      string
	BaseURL     string // empty means the provider default
	Model       string // default: gpt-4o-mini
	MaxTokens   int    // default: 512
	Temperature float32
	Timeout     time.Duration // per-request ceiling, default: 8s
}

type client struct {
	api       *openai.Client
	model     string
	maxTokens int
	temp      float32
	timeout   time.Duration
}

// New creates an escalation client. The API key is required; everything
// else has a usable default.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("escalation: missing API key")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &client{
		api:       openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: maxTokens,
		temp:      cfg.Temperature,
		timeout:   timeout,
	}, nil
}

const systemPrompt = `You are a classifier for a therapeutic journaling app.
Classify the user's journal entry into exactly one category:
compulsion, distortion, relaxation, mood, other.
Respond with a single JSON object:
{"category": "...", "confidence": 0.0-1.0, "payload": {...}}
The payload may carry short structured hints (e.g. valence, suggestion).
Do not include any text outside the JSON object.`

func (c *client) Analyze(ctx context.Context, text, locale string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user := text
	if locale != "" {
		user = fmt.Sprintf("[locale: %s]\n%s", locale, text)
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		slog.Error("escalation: request failed", "error", err)
		return nil, fmt.Errorf("escalation: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("escalation: empty response")
	}

	outcome, err := parseOutcome(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	outcome.TokensUsed = int64(resp.Usage.TotalTokens)

	slog.Debug("escalation: response received",
		"category", outcome.Category,
		"confidence", outcome.Confidence,
		"total_tokens", outcome.TokensUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, nil
}

// parseOutcome extracts the JSON object from the model reply, tolerating
// markdown fences some providers wrap around it.
func parseOutcome(content string) (*Outcome, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i >= 0 {
		if j := strings.LastIndex(content, "}"); j > i {
			content = content[i : j+1]
		}
	}

	var out Outcome
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("escalation: malformed response: %w", err)
	}
	if out.Category == "" {
		return nil, fmt.Errorf("escalation: response missing category")
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > confidence.MaxConfidence {
		slog.Warn("escalation: confidence above ceiling, clamping", "confidence", out.Confidence)
		out.Confidence = confidence.MaxConfidence
	}
	return &out, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
