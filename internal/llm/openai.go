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
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOpenAIModel      = "gpt-4o"
	defaultOpenAIMaxTokens  = 4096
	defaultOpenAIRetryDelay = 2 * time.Second
)

// OpenAIConfig holds the parameters needed to create an OpenAI provider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model identifier (e.g., "gpt-4o").
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// Chat Completions wire format.
type (
	chatRequest struct {
		Model          string          `json:"model"`
		Messages       []chatMessage   `json:"messages"`
		Temperature    float64         `json:"temperature"`
		MaxTokens      int             `json:"max_tokens,omitempty"`
		ResponseFormat *responseFormat `json:"response_format,omitempty"`
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	responseFormat struct {
		Type string `json:"type"`
	}

	chatResponse struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	openAIErrorBody struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
)

// OpenAIProvider implements Completer with the OpenAI Chat Completions API.
// JSON-mode requests set response_format to json_object.
type OpenAIProvider struct {
	transport
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider creates a new OpenAI completion provider.
func NewOpenAIProvider(cfg OpenAIConfig, opts ProviderOptions) *OpenAIProvider {
	opts.applyDefaults(defaultOpenAIMaxTokens, defaultOpenAIRetryDelay)

	p := &OpenAIProvider{
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
	if p.model == "" {
		p.model = defaultOpenAIModel
	}
	if p.baseURL == "" {
		p.baseURL = defaultOpenAIBaseURL
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	p.transport = newTransport(ProviderOpenAI, opts, header, decodeOpenAIError)
	return p
}

// Complete sends the system and user prompts as a two-message chat.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	raw, elapsed, err := p.postJSON(ctx, p.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewParseError(ProviderOpenAI, "failed to unmarshal response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewParseError(ProviderOpenAI, "empty choices in response", nil)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     elapsed,
	}, nil
}

// Provider returns "openai".
func (p *OpenAIProvider) Provider() string { return ProviderOpenAI }

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

func decodeOpenAIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{Provider: ProviderOpenAI, StatusCode: statusCode, Message: string(body)}

	var errBody openAIErrorBody
	if json.Unmarshal(body, &errBody) == nil && errBody.Error.Message != "" {
		apiErr.Message = errBody.Error.Message
		apiErr.Type = errBody.Error.Type
		apiErr.Code = errBody.Error.Code
	}
	return apiErr
}
