package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicOpts configures the Anthropic provider.
type AnthropicOpts struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	RequestOptions []option.RequestOption
}

// Anthropic enriches text with the Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic client with SDK retries disabled.
func NewAnthropic(opts AnthropicOpts) *Anthropic {
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	reqOpts = append(reqOpts, opts.RequestOptions...)

	model := anthropic.Model(opts.Model)
	if model == "" {
		model = anthropic.ModelClaude3_5Sonnet20241022
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), model: model, maxTokens: maxTokens}
}

// Enrich implements Client.
func (a *Anthropic) Enrich(ctx context.Context, text string) (Result, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("enrich: anthropic: %w: %w", ErrUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return parseResult(sb.String())
}
