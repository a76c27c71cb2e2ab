// Package enrich produces a transcription and sentiment for a call's
// assembled payload. Providers: a local mock, OpenAI and Anthropic.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zulandar/switchyard/internal/config"
)

// ErrUnavailable marks a provider failure worth retrying.
var ErrUnavailable = errors.New("enrich: service unavailable")

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Result is one successful enrichment.
type Result struct {
	Transcription string  `json:"transcription"`
	Sentiment     string  `json:"sentiment"`
	Confidence    float64 `json:"confidence"`
}

// Client enriches assembled call text.
type Client interface {
	Enrich(ctx context.Context, text string) (Result, error)
}

// systemPrompt asks the LLM providers for the same JSON shape.
const systemPrompt = `You analyse call recordings that have been reduced to text fragments.
Reply with a single JSON object and nothing else:
{"transcription": "<cleaned transcription>", "sentiment": "positive|negative|neutral", "confidence": <0..1>}`

// New builds the provider named in cfg.
func New(cfg config.EnrichConfig) (Client, error) {
	switch cfg.Provider {
	case "", "mock":
		rate := config.DefaultMockFailureRate
		if cfg.FailureRate != nil {
			rate = *cfg.FailureRate
		}
		return NewMock(MockOpts{
			FailureRate: rate,
			MinLatency:  cfg.MinLatency,
			MaxLatency:  cfg.MaxLatency,
		}), nil
	case "openai":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("enrich: openai api key is required")
		}
		return NewOpenAI(OpenAIOpts{APIKey: key, Model: cfg.Model}), nil
	case "anthropic":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("enrich: anthropic api key is required")
		}
		return NewAnthropic(AnthropicOpts{APIKey: key, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("enrich: unknown provider %q", cfg.Provider)
	}
}

// parseResult decodes a provider reply. Models sometimes wrap the object in
// prose or a code fence, so the outermost braces are extracted first.
func parseResult(raw string) (Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("enrich: no JSON object in reply: %w", ErrUnavailable)
	}

	var res Result
	if err := json.Unmarshal([]byte(raw[start:end+1]), &res); err != nil {
		return Result{}, fmt.Errorf("enrich: decode reply: %w: %w", ErrUnavailable, err)
	}
	if strings.TrimSpace(res.Transcription) == "" {
		return Result{}, fmt.Errorf("enrich: reply has no transcription: %w", ErrUnavailable)
	}
	res.Sentiment = NormalizeSentiment(res.Sentiment)
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}

// NormalizeSentiment maps free-form labels onto positive, negative or
// neutral.
func NormalizeSentiment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "pos"):
		return SentimentPositive
	case strings.HasPrefix(s, "neg"):
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
