package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the chat completions processor. BaseURL allows
// any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIProcessor sends requests to an OpenAI chat completions endpoint.
type OpenAIProcessor struct {
	client    *openai.Client
	model     string
	maxTokens int
	retry     retrier
}

// NewOpenAIProcessor creates an OpenAI-backed processor.
func NewOpenAIProcessor(cfg OpenAIConfig) (*OpenAIProcessor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIProcessor{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "openai".
func (p *OpenAIProcessor) Name() string { return "openai" }

// Process runs one chat completion and returns the first choice.
func (p *OpenAIProcessor) Process(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.convertMessages(req),
	}
	if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}

	var out string
	err := p.retry.do(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return p.wrapError(err)
		}
		if len(resp.Choices) == 0 {
			return NewProviderError("openai", p.model, errEmptyResponse)
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return NewProviderError("openai", p.model, errEmptyResponse)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *OpenAIProcessor) convertMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(req.Mode),
	})
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})
}

func (p *OpenAIProcessor) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError("openai", p.model, err).WithStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError("openai", p.model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewProviderError("openai", p.model, err)
}
