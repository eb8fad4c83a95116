package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
)

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct{ vendor, model string }{
		"no model":        {"ollama", ""},
		"unknown backend": {"fakecloud", "some-model"},
		"no backend":      {"", "qwen2.5:3b"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.vendor, tc.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatalf("New(%q, %q) succeeded", tc.vendor, tc.model)
			}
		})
	}
}

func TestNew_VendorIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	p, err := New("Ollama", "qwen2.5:3b")
	if err != nil {
		t.Fatal(err)
	}
	if p.vendor != "ollama" {
		t.Errorf("vendor = %q", p.vendor)
	}
	if !p.Capabilities().SupportsJSONMode {
		t.Error("qwen2.5 should report JSON mode")
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "ollama", "llamacpp"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() missing %q", want)
		}
	}
}

func TestParams(t *testing.T) {
	t.Parallel()

	p, err := NewOllama("gemma2:2b")
	if err != nil {
		t.Fatal(err)
	}

	cp := p.params(llm.CompletionRequest{
		SystemPrompt: "Answer yes or no.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Is Ayesha a name?"}},
		Temperature:  0.1,
		MaxTokens:    8,
	})
	if len(cp.Messages) != 2 || cp.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", cp.Messages)
	}
	if cp.Model != "gemma2:2b" {
		t.Errorf("model = %q", cp.Model)
	}
	if cp.Temperature == nil || *cp.Temperature != 0.1 {
		t.Errorf("temperature = %v", cp.Temperature)
	}
	if cp.MaxTokens == nil || *cp.MaxTokens != 8 {
		t.Errorf("max tokens = %v", cp.MaxTokens)
	}

	bare := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(bare.Messages) != 1 || bare.Temperature != nil || bare.MaxTokens != nil {
		t.Errorf("zero values should leave backend defaults: %+v", bare)
	}
}
