package enrich

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	oaoption "github.com/openai/openai-go/option"
)

// OpenAIOpts configures the OpenAI provider.
type OpenAIOpts struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// RequestOptions are appended to the client options (base URL, HTTP
	// client, retries).
	RequestOptions []oaoption.RequestOption
}

// OpenAI enriches text with the Chat Completions API.
type OpenAI struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
}

// NewOpenAI creates an OpenAI client. The SDK's own retries are disabled;
// the orchestrator owns the retry policy.
func NewOpenAI(opts OpenAIOpts) *OpenAI {
	reqOpts := []oaoption.RequestOption{oaoption.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, oaoption.WithAPIKey(opts.APIKey))
	}
	reqOpts = append(reqOpts, opts.RequestOptions...)

	model := openai.ChatModel(opts.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &OpenAI{client: openai.NewClient(reqOpts...), model: model, maxTokens: maxTokens}
}

// Enrich implements Client.
func (o *OpenAI) Enrich(ctx context.Context, text string) (Result, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return Result{}, fmt.Errorf("enrich: openai: %w: %w", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("enrich: openai: no choices returned: %w", ErrUnavailable)
	}
	return parseResult(resp.Choices[0].Message.Content)
}
