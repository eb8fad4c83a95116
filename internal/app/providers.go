package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/config"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings"
	oaembed "github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings/openai"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm/anyllm"
	oallm "github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm/openai"
)

// anyllmProviders share one construction pattern: optional API key plus
// optional base URL.
var anyllmProviders = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp"}

// RegisterBuiltinProviders wires the provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if secs := optInt(entry.Options, "timeout_seconds"); secs > 0 {
			opts = append(opts, oallm.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllmProviders {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; it takes a base URL, never an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// Ollama serves an OpenAI-compatible embeddings route under /v1.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		base := entry.BaseURL
		if base == "" {
			base = "http://localhost:11434/v1"
		}
		opts := []oaembed.Option{oaembed.WithBaseURL(base)}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New("ollama", entry.Model, opts...)
	})

	slog.Debug("registered llm providers", "names", reg.Names())
}

// BuildProviders instantiates the model chain and the embedder named in cfg.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if cfg.Providers.LLM.Name != "" {
		entries := append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...)
		chain, err := reg.CreateLLMChain(cfg.Providers.LLM, cfg.Providers.LLMFallbacks)
		if err != nil {
			return nil, fmt.Errorf("create llm providers: %w", err)
		}
		for i, p := range chain {
			ps.LLM = append(ps.LLM, NamedLLM{Name: entries[i].Name, Provider: p})
			slog.Info("provider created", "kind", "llm", "name", entries[i].Name, "model", entries[i].Model, "fallback", i > 0)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not available; skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embedder = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}
	return ps, nil
}

// optString extracts a string from a provider Options map. Missing keys and
// non-string values yield "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes
// integers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
