package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/parlwatch/verity/internal/model"
)

// OpenAIProvider implements Provider through the OpenAI chat completions API
// in JSON mode with temperature 0.
type OpenAIProvider struct {
	client *openai.Client
	cfg    model.AnalysisConfig
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg model.AnalysisConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks the API is reachable with the configured key.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Analyze sends one classification request. The call is bounded by the
// configured timeout; a deadline overrun maps to ErrCapabilityTimeout and a
// response that fails the wire contract maps to ErrMalformedResponse.
func (p *OpenAIProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.RawResult, error) {
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req, req.StatementID)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrCapabilityTimeout, err)
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}

	raw, err := ParseResponse([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)))
	if err != nil {
		return nil, err
	}
	raw.Provider = p.Name()
	raw.Model = resp.Model
	raw.PromptTokens = resp.Usage.PromptTokens
	raw.CompletionTokens = resp.Usage.CompletionTokens
	return raw, nil
}
