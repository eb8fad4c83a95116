package llm

import "strings"

// family is one row of the capability table, matched by model-name prefix.
type family struct {
	prefixes []string
	caps     ModelCapabilities
}

// families is ordered: the first matching prefix wins, so "gpt-4o" must come
// before "gpt-4".
var families = []family{
	{[]string{"gpt-4o", "gpt-4.1"}, ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsJSONMode: true}},
	{[]string{"gpt-4-turbo"}, ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{[]string{"gpt-4"}, ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{[]string{"gpt-3.5-turbo"}, ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{[]string{"o1", "o3", "o4"}, ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true}},
	{[]string{"claude"}, ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{[]string{"gemini"}, ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{[]string{"qwen2.5", "qwen3", "llama3"}, ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 2_048, SupportsJSONMode: true}},
	{[]string{"mistral", "open-mistral"}, ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{[]string{"deepseek"}, ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
}

// fallbackCaps is used for models the table does not know, typically small
// self-hosted ones.
var fallbackCaps = ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}

// LookupCapabilities returns the static capabilities of model. Ollama-style
// tags ("qwen2.5:3b") and vendor paths ("meta/llama3") are matched on the
// bare model name.
func LookupCapabilities(model string) ModelCapabilities {
	name := strings.ToLower(model)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, f := range families {
		for _, p := range f.prefixes {
			if strings.HasPrefix(name, p) {
				return f.caps
			}
		}
	}
	return fallbackCaps
}
