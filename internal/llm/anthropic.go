package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

const (
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicBaseURL    = "https://api.anthropic.com"
	defaultAnthropicModel      = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens  = 4096
	defaultAnthropicRetryDelay = time.Second

	// anthropicJSONInstruction stands in for the JSON response format the
	// Messages API lacks.
	anthropicJSONInstruction = "\n\nRespond with a single JSON object and nothing else."
)

// AnthropicConfig holds the parameters needed to create an Anthropic provider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the model identifier (e.g., "claude-sonnet-4-20250514").
	Model string
	// BaseURL is the API base URL.
	BaseURL string
}

// Messages API wire format.
type (
	messagesRequest struct {
		Model       string             `json:"model"`
		MaxTokens   int                `json:"max_tokens"`
		System      string             `json:"system,omitempty"`
		Messages    []anthropicMessage `json:"messages"`
		Temperature float64            `json:"temperature"`
	}

	anthropicMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	contentBlock struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}

	messagesResponse struct {
		ID         string         `json:"id"`
		Type       string         `json:"type"`
		Role       string         `json:"role"`
		Content    []contentBlock `json:"content"`
		Model      string         `json:"model"`
		StopReason string         `json:"stop_reason"`
		Usage      anthropicUsage `json:"usage"`
	}

	anthropicUsage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	anthropicErrorBody struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
)

// AnthropicProvider implements Completer with the Anthropic Messages API.
type AnthropicProvider struct {
	transport
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewAnthropicProvider creates a new AnthropicProvider with the given configuration.
func NewAnthropicProvider(cfg AnthropicConfig, opts ProviderOptions) *AnthropicProvider {
	opts.applyDefaults(defaultAnthropicMaxTokens, defaultAnthropicRetryDelay)

	p := &AnthropicProvider{
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
	if p.model == "" {
		p.model = defaultAnthropicModel
	}
	if p.baseURL == "" {
		p.baseURL = defaultAnthropicBaseURL
	}

	header := http.Header{}
	header.Set("x-api-key", cfg.APIKey)
	header.Set("anthropic-version", anthropicAPIVersion)
	p.transport = newTransport(ProviderAnthropic, opts, header, decodeAnthropicError)
	return p
}

// Complete sends one user message and returns the first text content block.
// JSON mode appends an instruction to the system prompt.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	system := req.SystemPrompt
	if req.JSONMode {
		system += anthropicJSONInstruction
	}

	raw, elapsed, err := p.postJSON(ctx, p.baseURL+"/v1/messages", messagesRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewParseError(ProviderAnthropic, "failed to unmarshal response", err)
	}

	text, ok := firstText(resp.Content)
	if !ok {
		return nil, domain.NewParseError(ProviderAnthropic, "response contains no text content blocks", nil)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Content:      text,
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Duration:     elapsed,
	}, nil
}

// Provider returns "anthropic".
func (p *AnthropicProvider) Provider() string { return ProviderAnthropic }

// Model returns the configured model identifier.
func (p *AnthropicProvider) Model() string { return p.model }

func firstText(blocks []contentBlock) (string, bool) {
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			return block.Text, true
		}
	}
	return "", false
}

func decodeAnthropicError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{Provider: ProviderAnthropic, StatusCode: statusCode, Message: string(body)}

	var errBody anthropicErrorBody
	if json.Unmarshal(body, &errBody) == nil && errBody.Error.Message != "" {
		apiErr.Message = errBody.Error.Message
		apiErr.Type = errBody.Error.Type
	}
	return apiErr
}
