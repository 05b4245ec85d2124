package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/keyword"
)

// ErrInvalid marks configuration problems that prevent startup.
var ErrInvalid = errors.New("invalid config")

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the autoreply gateway.
type Config struct {
	AutoReply AutoReplyConfig `json:"auto_reply"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Sessions  SessionsConfig  `json:"sessions"`
	Stats     StatsConfig     `json:"stats"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// rules loaded from auto_reply.keyword_rules_file; never written back
	fileRules []keyword.Rule
	mu        sync.RWMutex
}

// AutoReplyConfig drives the reply policy.
type AutoReplyConfig struct {
	Enabled              bool               `json:"enabled"`
	ReplyMode            string             `json:"reply_mode,omitempty"` // "keyword", "ai", "hybrid" (default)
	KeywordRules         []keyword.Rule     `json:"keyword_rules,omitempty"`
	KeywordRulesFile     string             `json:"keyword_rules_file,omitempty"` // YAML list appended after keyword_rules
	FallbackMessage      string             `json:"fallback_message,omitempty"`
	ResponseDelaySeconds float64            `json:"response_delay_seconds,omitempty"`
	SelfID               string             `json:"self_id,omitempty"`            // overrides the id reported by channels
	RepliesPerMinute     int                `json:"replies_per_minute,omitempty"` // per conversation, 0 = unlimited
	WorkingHours         WorkingHoursConfig `json:"working_hours"`
	AI                   AIConfig           `json:"ai"`
}

// WorkingHoursConfig restricts replies to a daily window.
type WorkingHoursConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA name, default UTC
	Start    string `json:"start,omitempty"`    // "HH:MM"
	End      string `json:"end,omitempty"`      // "HH:MM", inclusive
}

// AIConfig selects the text-generation backend.
type AIConfig struct {
	Provider       string `json:"provider,omitempty"` // key under providers
	Model          string `json:"model,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Timeout returns the AI call bound.
func (a AIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ResponseDelay returns the configured delay, clamped at zero.
func (a AutoReplyConfig) ResponseDelay() time.Duration {
	if a.ResponseDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(a.ResponseDelaySeconds * float64(time.Second))
}

// SessionsConfig bounds in-memory conversation state.
type SessionsConfig struct {
	MaxSessions   int    `json:"max_sessions,omitempty"`   // LRU capacity (default 10000)
	IdleTTL       string `json:"idle_ttl,omitempty"`       // Go duration (default "24h")
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression (default "*/10 * * * *")
}

// IdleTTLDuration parses IdleTTL. Validate rejects unparsable values.
func (s SessionsConfig) IdleTTLDuration() time.Duration {
	d, err := time.ParseDuration(s.IdleTTL)
	if err != nil {
		return 0
	}
	return d
}

// StatsConfig selects the durable store for reply counters.
type StatsConfig struct {
	Backend    string `json:"backend,omitempty"`     // "file" (default), "sqlite", "postgres"
	Path       string `json:"path,omitempty"`        // directory (file) or database file (sqlite)
	FlushEvery int    `json:"flush_every,omitempty"` // replies between flushes (default 10)
}

// DatabaseConfig holds the Postgres connection for the postgres stats backend.
// PostgresDSN is NEVER read from the config file, only from AUTOREPLY_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "autoreply"
	Headers     map[string]string `json:"headers,omitempty"`
}

// Rules returns the inline keyword rules followed by those from the rules file.
func (c *Config) Rules() []keyword.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := slices.Clone(c.AutoReply.KeywordRules)
	return append(out, c.fileRules...)
}

// ReplaceFrom copies all fields from src into c under lock.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AutoReply = src.AutoReply
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Sessions = src.Sessions
	c.Stats = src.Stats
	c.Database = src.Database
	c.Gateway = src.Gateway
	c.Telemetry = src.Telemetry
	c.fileRules = src.fileRules
}
