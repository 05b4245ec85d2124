package config

// ChannelsConfig holds the chat transports.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled     bool                `json:"enabled"`
	BridgeURL   string              `json:"bridge_url"`
	AccountID   string              `json:"account_id,omitempty"` // owner of notification events
	AllowFrom   FlexibleStringSlice `json:"allow_from"`
	DMPolicy    string              `json:"dm_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupPolicy string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	LinkPreview *bool               `json:"link_preview,omitempty"` // default true
}

type TelegramConfig struct {
	Enabled     bool                `json:"enabled"`
	Token       string              `json:"token"`
	Proxy       string              `json:"proxy,omitempty"`
	AccountID   string              `json:"account_id,omitempty"`
	AllowFrom   FlexibleStringSlice `json:"allow_from"`
	DMPolicy    string              `json:"dm_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupPolicy string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	LinkPreview *bool               `json:"link_preview,omitempty"` // default true
}

// BoolOr dereferences b, returning def when unset.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Mistral    ProviderConfig `json:"mistral"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// Lookup returns the settings for the named provider.
func (p ProvidersConfig) Lookup(name string) (ProviderConfig, bool) {
	switch name {
	case "anthropic":
		return p.Anthropic, true
	case "openai":
		return p.OpenAI, true
	case "openrouter":
		return p.OpenRouter, true
	case "groq":
		return p.Groq, true
	case "gemini":
		return p.Gemini, true
	case "deepseek":
		return p.DeepSeek, true
	case "mistral":
		return p.Mistral, true
	}
	return ProviderConfig{}, false
}

// GatewayConfig is the HTTP listener for health, metrics and the event stream.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // /events origin whitelist (empty = same host only)
}
