// Package llm defines the Provider interface for Large Language Model backends
// used to rewrite user sentences.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, a local
// Ollama instance, ...) behind a single request/response call. VoxFix only
// needs whole completions: correction is never streamed to the user, so the
// interface carries no streaming or tool-calling surface.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import (
	"context"
	"fmt"
)

// Message is a single turn sent to the model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional instruction placed before Messages. Providers
	// without a dedicated system field send it as a "system" message.
	SystemPrompt string

	// Messages is the ordered conversation. VoxFix sends a single user turn.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend and model for logs and metrics
	// (e.g. "gemini/gemini-1.5-flash").
	Name() string
}

// StatusError is returned by providers when the backend answered with a
// non-success HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }
