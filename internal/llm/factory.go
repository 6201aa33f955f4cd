package llm

import (
	"fmt"
	"time"
)

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const defaultProviderTimeout = 60 * time.Second

// ProviderOptions are the settings shared by every provider.
type ProviderOptions struct {
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
	// Timeout is the timeout for a single API call.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int
	// RetryDelay is the base backoff delay. Zero uses the provider default.
	RetryDelay time.Duration
}

func (o *ProviderOptions) applyDefaults(maxTokens int, retryDelay time.Duration) {
	if o.MaxTokens <= 0 {
		o.MaxTokens = maxTokens
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = retryDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultProviderTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
}

// FactoryConfig holds the parameters needed to create a Completer.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai" or "anthropic").
	Provider string
	// Options are the shared provider settings.
	Options ProviderOptions
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
}

// NewCompleter creates a Completer based on the configuration. The selected
// provider's API key is required.
func NewCompleter(cfg FactoryConfig) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai: API key is required")
		}
		return NewOpenAIProvider(cfg.OpenAI, cfg.Options), nil
	case ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic: API key is required")
		}
		return NewAnthropicProvider(cfg.Anthropic, cfg.Options), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
