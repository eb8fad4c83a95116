// Package llm defines the Provider interface for the generative-model
// collaborator.
//
// The intake agent only ever issues stateless single-turn completions: the
// caller supplies the full system prompt and user prompt on every call. A
// Provider instance is bound to exactly one model, so "which model" is decided
// when the provider is constructed rather than per request.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"log/slog"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce one reply.
type CompletionRequest struct {
	// SystemPrompt is the instruction block sent ahead of Messages. Providers
	// without a dedicated system field prepend it as a "system" message.
	SystemPrompt string

	// Messages is the ordered conversation. For the single-turn calls made by
	// the intake agent this is a single "user" message.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps generated tokens. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the full reply from a completion call.
type CompletionResponse struct {
	Content string
	Usage   Usage

	// Truncated is set when the reply stopped at MaxTokens rather than at a
	// natural end.
	Truncated bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It must
	// return promptly with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the bound model.
	Capabilities() ModelCapabilities
}

// Chat is a convenience for the common single-turn shape: one system prompt,
// one user prompt, text back.
func Chat(ctx context.Context, p Provider, systemPrompt, userPrompt string, opts ...ChatOption) (string, error) {
	req := CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: userPrompt}},
	}
	for _, o := range opts {
		o(&req)
	}
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	if resp.Truncated {
		slog.DebugContext(ctx, "llm: reply cut at the token limit", "max_tokens", req.MaxTokens)
	}
	return resp.Content, nil
}

// ChatOption adjusts the request built by [Chat].
type ChatOption func(*CompletionRequest)

// WithTemperature sets the sampling temperature for a [Chat] call.
func WithTemperature(t float64) ChatOption {
	return func(r *CompletionRequest) { r.Temperature = t }
}

// WithMaxTokens caps generated tokens for a [Chat] call.
func WithMaxTokens(n int) ChatOption {
	return func(r *CompletionRequest) { r.MaxTokens = n }
}
