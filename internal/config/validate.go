package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Validate checks c. Problems that make the gateway unusable are joined into
// an error wrapping ErrInvalid; recoverable ones (AI misconfigured, unknown
// reply mode, odd working hours) are returned as warnings and the engine
// degrades around them.
func Validate(c *Config) (warnings []string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []error
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	ar := c.AutoReply
	switch ar.ReplyMode {
	case "", "keyword", "ai", "hybrid":
	default:
		warn("auto_reply.reply_mode %q is unknown; every message gets the fallback reply", ar.ReplyMode)
	}
	if ar.ResponseDelaySeconds < 0 {
		warn("auto_reply.response_delay_seconds is negative; treated as 0")
	}
	if ar.RepliesPerMinute < 0 {
		warn("auto_reply.replies_per_minute is negative; rate limiting disabled")
	}

	for i, r := range slices.Concat(ar.KeywordRules, c.fileRules) {
		if !r.Enabled {
			continue
		}
		if len(r.Keywords) == 0 {
			warn("keyword rule %d has no keywords and never matches", i)
		}
		if strings.TrimSpace(r.Response) == "" {
			warn("keyword rule %d has an empty response", i)
		}
	}

	if wh := ar.WorkingHours; wh.Enabled {
		start, errS := parseClock(wh.Start)
		end, errE := parseClock(wh.End)
		if errS != nil {
			fail("auto_reply.working_hours.start: %w", errS)
		}
		if errE != nil {
			fail("auto_reply.working_hours.end: %w", errE)
		}
		if errS == nil && errE == nil && start > end {
			warn("auto_reply.working_hours wraps past midnight (%s > %s); windows crossing midnight are not supported and never match", wh.Start, wh.End)
		}
		if wh.Timezone != "" {
			if _, err := time.LoadLocation(wh.Timezone); err != nil {
				warn("auto_reply.working_hours.timezone %q is unknown; using UTC", wh.Timezone)
			}
		}
	}

	if ar.ReplyMode != "keyword" {
		ai := ar.AI
		switch p, known := c.Providers.Lookup(ai.Provider); {
		case ai.Provider == "":
			warn("auto_reply.ai.provider is empty; AI replies disabled, fallback used instead")
		case !known:
			warn("auto_reply.ai.provider %q is unknown; AI replies disabled", ai.Provider)
		case p.APIKey == "":
			warn("no API key for provider %q; AI replies disabled", ai.Provider)
		}
	}

	s := c.Sessions
	if s.IdleTTL != "" {
		if _, err := time.ParseDuration(s.IdleTTL); err != nil {
			fail("sessions.idle_ttl: %w", err)
		}
	}
	if s.SweepSchedule != "" && !gronx.New().IsValid(s.SweepSchedule) {
		fail("sessions.sweep_schedule: invalid cron expression %q", s.SweepSchedule)
	}

	switch c.Stats.Backend {
	case "", "file", "sqlite":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			fail("stats.backend postgres requires AUTOREPLY_POSTGRES_DSN")
		}
	default:
		fail("stats.backend %q is unknown", c.Stats.Backend)
	}

	if wa := c.Channels.WhatsApp; wa.Enabled && wa.BridgeURL == "" {
		fail("channels.whatsapp.bridge_url is required")
	}
	if tg := c.Channels.Telegram; tg.Enabled && tg.Token == "" {
		fail("channels.telegram.token is required")
	}

	if t := c.Telemetry; t.Enabled {
		if t.Endpoint == "" {
			fail("telemetry.endpoint is required when telemetry is enabled")
		}
		if t.Protocol != "" && t.Protocol != "grpc" && t.Protocol != "http" {
			fail("telemetry.protocol %q must be grpc or http", t.Protocol)
		}
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
	}
	return warnings, nil
}

func parseClock(s string) (string, error) {
	if len(s) != 5 {
		return "", fmt.Errorf("%q is not HH:MM", s)
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return "", fmt.Errorf("%q is not HH:MM", s)
	}
	return s, nil
}
