package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if !cfg.AutoReply.Enabled || cfg.AutoReply.ReplyMode != "hybrid" {
		t.Fatalf("unexpected auto_reply defaults: %+v", cfg.AutoReply)
	}
	if cfg.Sessions.MaxSessions != 10000 || cfg.Sessions.IdleTTLDuration() != 24*time.Hour {
		t.Fatalf("unexpected sessions defaults: %+v", cfg.Sessions)
	}
	if cfg.AutoReply.AI.Timeout() != 30*time.Second {
		t.Fatalf("AI timeout = %v, want 30s", cfg.AutoReply.AI.Timeout())
	}
}

func TestLoadJSON5AndRulesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rules.yaml"), `
rules:
  - keywords: [price, cost]
    response: "See our price list"
  - keywords: [hours]
    response: "9 to 6"
    enabled: false
`)
	cfgPath := filepath.Join(dir, "config.json5")
	writeFile(t, cfgPath, `{
  // comments are allowed
  auto_reply: {
    enabled: true,
    reply_mode: "keyword",
    keyword_rules: [{keywords: ["hello"], response: "hi", enabled: true}],
    keyword_rules_file: "rules.yaml",
    response_delay_seconds: 1.5,
    working_hours: {enabled: true, timezone: "UTC", start: "09:00", end: "18:00"}
  }
}`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if cfg.AutoReply.ReplyMode != "keyword" {
		t.Fatalf("reply_mode = %q", cfg.AutoReply.ReplyMode)
	}
	if cfg.AutoReply.ResponseDelay() != 1500*time.Millisecond {
		t.Fatalf("ResponseDelay = %v", cfg.AutoReply.ResponseDelay())
	}

	rules := cfg.Rules()
	if len(rules) != 3 {
		t.Fatalf("expected inline + file rules, got %d", len(rules))
	}
	if rules[0].Response != "hi" || rules[1].Keywords[1] != "cost" || !rules[1].Enabled || rules[2].Enabled {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if len(cfg.AutoReply.KeywordRules) != 1 {
		t.Fatal("file rules must not be merged into keyword_rules")
	}
}

func TestLoadRulesFileBareList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, "- keywords: [ship]\n  response: shipping takes 2 days\n")
	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if len(rules) != 1 || !rules[0].Enabled || rules[0].Keywords[0] != "ship" {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	writeFile(t, path, "just a string")
	if _, err := LoadRulesFile(path); err == nil {
		t.Fatal("expected error for scalar rules file")
	}
}

func TestLoadMissingRulesFileIsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json5")
	writeFile(t, cfgPath, `{auto_reply: {keyword_rules_file: "nope.yaml"}}`)
	if _, err := Load(cfgPath); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOREPLY_OPENAI_API_KEY", "sk-env")
	t.Setenv("AUTOREPLY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("AUTOREPLY_PORT", "9999")
	t.Setenv("AUTOREPLY_POSTGRES_DSN", "postgres://localhost/autoreply")
	t.Setenv("AUTOREPLY_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-env" || cfg.Gateway.Port != 9999 {
		t.Fatalf("env not applied: %+v %+v", cfg.Providers.OpenAI, cfg.Gateway)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "123:abc" {
		t.Fatal("telegram should be enabled by token env")
	}
	if cfg.AutoReply.Enabled {
		t.Fatal("AUTOREPLY_ENABLED=false not applied")
	}

	path := filepath.Join(t.TempDir(), "out.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "postgres://") {
		t.Fatal("postgres dsn must never be written to disk")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		invalid bool
		warning string
	}{
		{"defaults without key", func(c *Config) {}, false, "no API key"},
		{"keyword mode needs no provider", func(c *Config) { c.AutoReply.ReplyMode = "keyword" }, false, ""},
		{"unknown mode", func(c *Config) { c.AutoReply.ReplyMode = "smart"; c.Providers.OpenAI.APIKey = "k" }, false, "reply_mode"},
		{"unknown provider", func(c *Config) { c.AutoReply.AI.Provider = "skynet" }, false, "unknown"},
		{"wrap-around hours", func(c *Config) {
			c.AutoReply.ReplyMode = "keyword"
			c.AutoReply.WorkingHours = WorkingHoursConfig{Enabled: true, Start: "22:00", End: "06:00"}
		}, false, "midnight"},
		{"malformed hours", func(c *Config) {
			c.AutoReply.WorkingHours = WorkingHoursConfig{Enabled: true, Start: "9am", End: "18:00"}
		}, true, ""},
		{"bad ttl", func(c *Config) { c.Sessions.IdleTTL = "forever" }, true, ""},
		{"bad schedule", func(c *Config) { c.Sessions.SweepSchedule = "every minute" }, true, ""},
		{"postgres without dsn", func(c *Config) { c.Stats.Backend = "postgres" }, true, ""},
		{"unknown backend", func(c *Config) { c.Stats.Backend = "redis" }, true, ""},
		{"whatsapp without bridge", func(c *Config) { c.Channels.WhatsApp.Enabled = true }, true, ""},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			warnings, err := Validate(c)
			if tt.invalid != errors.Is(err, ErrInvalid) {
				t.Fatalf("invalid = %v, got err %v", tt.invalid, err)
			}
			joined := strings.Join(warnings, "\n")
			if tt.warning == "" && !tt.invalid && joined != "" {
				t.Fatalf("unexpected warnings: %s", joined)
			}
			if tt.warning != "" && !strings.Contains(joined, tt.warning) {
				t.Fatalf("expected warning containing %q, got %q", tt.warning, joined)
			}
		})
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{auto_reply: {fallback_message: "one"}}`)
	current, err := Load(path)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}

	got := make(chan *Config, 4)
	w := NewWatcher(path, current, func(c *Config) { got <- c })
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			if c.AutoReply.FallbackMessage != "two" {
				t.Fatalf("fallback = %q, want two", c.AutoReply.FallbackMessage)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("expected nil error, got: %v", err)
			}
			return
		case <-tick.C:
			writeFile(t, path, `{auto_reply: {fallback_message: "two"}}`)
		case <-deadline:
			cancel()
			t.Fatal("config change was not observed")
		}
	}
}

func TestWatcherIgnoresInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{sessions: {idle_ttl: "forever"}}`)

	called := false
	w := NewWatcher(path, nil, func(*Config) { called = true })
	w.reload()
	if called {
		t.Fatal("invalid config must not be applied")
	}
}
