// Package classifier defines the Provider interface for the external
// classification service the analysis pipeline calls.
//
// A classifier wraps a language-model API (e.g., OpenAI, or any backend
// supported by any-llm-go) behind a single synchronous request/response call:
// a natural-language prompt with structured conversational context goes in, a
// textual payload expected to contain a JSON object comes out. Transport,
// authentication, and model selection are implementation concerns; the
// pipeline only depends on this contract.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package classifier

import "context"

// Request carries one classification call.
type Request struct {
	// SystemPrompt is the instruction framing the classification task.
	SystemPrompt string

	// Prompt is the conversational context to classify, serialised as text.
	Prompt string

	// Temperature controls output randomness. Classification prompts should
	// use a low value for near-deterministic output. Zero means provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// Response is the textual payload returned by the classification service.
// The content is expected to contain a JSON object, possibly wrapped in
// markdown code fences; callers normalize and validate it.
type Response struct {
	// Content is the full text of the model's reply.
	Content string
}

// Provider is the abstraction over any classification backend.
type Provider interface {
	// Complete sends req to the classification service and waits for the
	// full response. Returns an error if the call fails or ctx is cancelled
	// before the response arrives.
	Complete(ctx context.Context, req Request) (*Response, error)
}
