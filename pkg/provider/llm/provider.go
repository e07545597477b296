// Package llm defines the Provider interface for large language model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) behind a single blocking
// completion call: conversation history in, reply text out. The voice
// pipeline is strictly turn-based — the full reply is needed before speech
// synthesis starts — so providers expose no streaming surface.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	// Callers are expected to bound the call with a context deadline.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
