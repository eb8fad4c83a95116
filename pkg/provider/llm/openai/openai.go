// Package openai talks to the OpenAI chat completions API. Any server that
// speaks the same wire format (vLLM, llama.cpp's server, Ollama's /v1
// endpoint) can be reached by pointing [WithBaseURL] at it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
)

// finishLength is the finish reason reported when max tokens cut the reply.
const finishLength = "length"

// Provider is an [llm.Provider] bound to one OpenAI model.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	baseURL string
	org     string
	timeout time.Duration
}

// Option customises [New].
type Option func(*settings)

// WithBaseURL sends requests to url instead of api.openai.com.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithOrganization adds the OpenAI-Organization header.
func WithOrganization(org string) Option { return func(s *settings) { s.org = org } }

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// New returns a Provider for model. The SDK's own retries are disabled; the
// agent's fallback chain decides what happens after a failure.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	ro := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if s.baseURL != "" {
		ro = append(ro, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		ro = append(ro, option.WithOrganization(s.org))
	}
	if s.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}

	return &Provider{
		client: oai.NewClient(ro...),
		model:  model,
		caps:   llm.LookupCapabilities(model),
	}, nil
}

// Capabilities reports the bound model's limits.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// Complete sends one chat completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs, err := toMessages(req)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s: reply has no choices", p.model)
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:   choice.Message.Content,
		Truncated: string(choice.FinishReason) == finishLength,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// toMessages flattens the request into SDK messages, system prompt first.
func toMessages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: message %d: unsupported role %q", i, m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: request has no messages")
	}
	return out, nil
}
