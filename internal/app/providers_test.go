package app_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/app"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/config"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	for _, name := range config.ValidProviderNames["llm"] {
		if !slices.Contains(reg.Names(), name) {
			t.Errorf("llm provider %q not registered", name)
		}
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	t.Run("chain", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{Providers: config.ProvidersConfig{
			LLM:          config.ProviderEntry{Name: "ollama", Model: "llama3.2"},
			LLMFallbacks: []config.ProviderEntry{{Name: "ollama", Model: "qwen2.5", BaseURL: "http://gpu-box:11434"}},
			Embeddings:   config.ProviderEntry{Name: "ollama", Model: "nomic-embed-text"},
		}}
		ps, err := app.BuildProviders(cfg, reg)
		if err != nil {
			t.Fatal(err)
		}
		if len(ps.LLM) != 2 || ps.LLM[0].Name != "ollama" || ps.Embedder == nil {
			t.Errorf("providers = %+v", ps)
		}
	})

	t.Run("no llm", func(t *testing.T) {
		t.Parallel()
		ps, err := app.BuildProviders(&config.Config{}, reg)
		if err != nil || len(ps.LLM) != 0 || ps.Embedder != nil {
			t.Errorf("providers = %+v, err = %v", ps, err)
		}
	})

	t.Run("unknown llm", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "nope"}}}
		_, err := app.BuildProviders(cfg, reg)
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})

	t.Run("openai without key", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}}}
		if _, err := app.BuildProviders(cfg, reg); err == nil {
			t.Error("openai without api key built")
		}
	})
}
