package providers

import (
	"fmt"
	"strings"
	"time"
)

// Config selects and configures the downstream processor.
type Config struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// New builds the configured processor wrapped with its timeout.
func New(cfg Config) (Processor, error) {
	var (
		p   Processor
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		p, err = NewAnthropicProcessor(AnthropicConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	case "openai":
		p, err = NewOpenAIProcessor(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	case "echo", "":
		p = EchoProcessor{}
	default:
		return nil, fmt.Errorf("unknown processor provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(p, cfg.Timeout), nil
}
