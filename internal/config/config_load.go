package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		AutoReply: AutoReplyConfig{
			Enabled:   true,
			ReplyMode: "hybrid",
			AI: AIConfig{
				Provider:       "openai",
				Model:          "gpt-4o-mini",
				MaxTokens:      500,
				TimeoutSeconds: 30,
			},
		},
		Sessions: SessionsConfig{
			MaxSessions:   10000,
			IdleTTL:       "24h",
			SweepSchedule: "*/10 * * * *",
		},
		Stats: StatsConfig{
			Backend:    "file",
			Path:       "~/.autoreply/data",
			FlushEvery: 10,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18800,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars and the
// keyword rules file. A missing config file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if f := cfg.AutoReply.KeywordRulesFile; f != "" {
		rulesPath := ExpandHome(f)
		if !filepath.IsAbs(rulesPath) {
			rulesPath = filepath.Join(filepath.Dir(path), rulesPath)
		}
		rules, err := LoadRulesFile(rulesPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		cfg.fileRules = rules
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("AUTOREPLY_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AUTOREPLY_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AUTOREPLY_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("AUTOREPLY_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("AUTOREPLY_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("AUTOREPLY_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("AUTOREPLY_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)

	envStr("AUTOREPLY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AUTOREPLY_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)

	// Auto-enable channels if credentials are provided via env
	if os.Getenv("AUTOREPLY_TELEGRAM_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}
	if os.Getenv("AUTOREPLY_WHATSAPP_BRIDGE_URL") != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	envBool("AUTOREPLY_ENABLED", &c.AutoReply.Enabled)
	envStr("AUTOREPLY_REPLY_MODE", &c.AutoReply.ReplyMode)
	envStr("AUTOREPLY_SELF_ID", &c.AutoReply.SelfID)
	envStr("AUTOREPLY_AI_PROVIDER", &c.AutoReply.AI.Provider)
	envStr("AUTOREPLY_AI_MODEL", &c.AutoReply.AI.Model)

	// Gateway host/port
	envStr("AUTOREPLY_HOST", &c.Gateway.Host)
	if v := os.Getenv("AUTOREPLY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Stats store
	envStr("AUTOREPLY_STATS_BACKEND", &c.Stats.Backend)
	envStr("AUTOREPLY_STATS_PATH", &c.Stats.Path)
	envStr("AUTOREPLY_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Telemetry
	envStr("AUTOREPLY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AUTOREPLY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AUTOREPLY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("AUTOREPLY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("AUTOREPLY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Allow list from env (comma-separated), applied to every channel
	if v := os.Getenv("AUTOREPLY_ALLOW_FROM"); v != "" {
		ids := strings.Split(v, ",")
		c.Channels.WhatsApp.AllowFrom = ids
		c.Channels.Telegram.AllowFrom = ids
	}
}

// Save writes the config to a JSON file. Rules loaded from the rules file
// and env-only secrets are not written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(struct {
		*Config
		FileRules any `json:"file_rules"`
	}{c, c.fileRules})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// StatsPath returns the expanded stats store location.
func (c *Config) StatsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Stats.Path)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
