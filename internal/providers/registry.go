package providers

import "fmt"

// Default API bases for the OpenAI-compatible vendors.
var openAICompatibleBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"mistral":    "https://api.mistral.ai/v1",
}

// New builds the provider registered under name. apiBase and model may be
// empty to use the vendor defaults.
func New(name, apiKey, apiBase, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q: missing api key", name)
	}
	if name == "anthropic" {
		return NewAnthropicProvider(apiKey, WithAnthropicBaseURL(apiBase), WithAnthropicModel(model)), nil
	}
	base, ok := openAICompatibleBases[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if apiBase != "" {
		base = apiBase
	}
	return NewOpenAIProvider(name, apiKey, base, model), nil
}

// Known reports whether name is a supported provider.
func Known(name string) bool {
	if name == "anthropic" {
		return true
	}
	_, ok := openAICompatibleBases[name]
	return ok
}
