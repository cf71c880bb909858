package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic Messages API processor.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProcessor sends requests to the Anthropic Messages API.
type AnthropicProcessor struct {
	client    anthropic.Client
	model     string
	maxTokens int
	retry     retrier
}

// NewAnthropicProcessor creates an Anthropic-backed processor.
func NewAnthropicProcessor(cfg AnthropicConfig) (*AnthropicProcessor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	// Retries are handled by the processor so every attempt is classified.
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProcessor{
		client:    anthropic.NewClient(options...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProcessor) Name() string { return "anthropic" }

// Process sends the history as alternating turns and returns the text reply.
func (p *AnthropicProcessor) Process(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  p.convertMessages(req),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt(req.Mode)},
		},
	}

	var out string
	err := p.retry.do(ctx, func() error {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return p.wrapError(err)
		}
		var b strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		out = strings.TrimSpace(b.String())
		if out == "" {
			return NewProviderError("anthropic", p.model, errEmptyResponse)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *AnthropicProcessor) convertMessages(req Request) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))
}

func (p *AnthropicProcessor) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", p.model, err).WithStatus(apiErr.StatusCode)
	}
	return NewProviderError("anthropic", p.model, err)
}
