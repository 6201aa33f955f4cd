// Package llm provides chat-completion clients for the language models used to
// extract structured clinical-trial data from PubMed abstracts.
//
// Two providers are supported: OpenAI (Chat Completions API) and Anthropic
// (Messages API). Both implement Completer, retry transient failures with
// exponential backoff, and report provider failures as *APIError.
//
// Example usage:
//
//	completer, err := llm.NewCompleter(llm.FactoryConfig{Provider: "openai", ...})
//	system, user := llm.BuildClinicalTrialPrompt(llm.PromptInput{Title: title, Abstract: abstract, PMCID: pmcid})
//	resp, err := completer.Complete(ctx, llm.Request{SystemPrompt: system, UserPrompt: user, JSONMode: true})
package llm

import (
	"context"
	"time"
)

// Request is a single-turn chat completion.
type Request struct {
	// SystemPrompt sets the model's role and output contract.
	SystemPrompt string

	// UserPrompt carries the task and the article text.
	UserPrompt string

	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool
}

// Response is the text returned by a completion together with usage metadata.
type Response struct {
	// Content is the raw text of the first completion choice.
	Content string

	// Model is the model identifier reported by the provider.
	Model string

	// InputTokens is the number of input tokens used.
	InputTokens int

	// OutputTokens is the number of output tokens used.
	OutputTokens int

	// Duration is the wall time of the successful attempt.
	Duration time.Duration
}

// Completer sends chat completions to a language-model provider.
//
// Implementations must respect context cancellation, retry only transient
// failures, and return *APIError for every provider-reported failure.
type Completer interface {
	// Complete sends the request and returns the first completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used (e.g., "gpt-4o").
	Model() string
}
