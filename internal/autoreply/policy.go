package autoreply

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/keyword"
	"github.com/nextlevelbuilder/autoreply/internal/sessions"
)

// MaxInputRunes bounds the text fed to keyword and fuzzy matching.
const MaxInputRunes = 4096

// DefaultFallbackMessage is used when no fallback text is configured.
const DefaultFallbackMessage = "Thanks for your message! We'll get back to you shortly."

// Generator produces an AI reply for text given the conversation history.
type Generator interface {
	Generate(ctx context.Context, text string, history []sessions.Entry) (string, error)
}

// Settings is the policy-relevant slice of the auto_reply config.
type Settings struct {
	Enabled         bool
	Mode            Mode // empty means hybrid
	FallbackMessage string
	WorkingHours    WorkingHours

	// Reported in AI reply metadata.
	AIProvider string
	AIModel    string
}

// Policy is the reply decision state machine. It is immutable once built;
// the engine swaps in a new Policy on config reload.
type Policy struct {
	settings Settings
	window   Window
	index    *keyword.Index
	ai       Generator // nil when AI is not configured
	now      func() time.Time
}

// NewPolicy builds a policy. gen may be nil, in which case the AI path always
// degrades to the fallback reply.
func NewPolicy(settings Settings, index *keyword.Index, gen Generator) (*Policy, error) {
	window, err := NewWindow(settings.WorkingHours)
	if err != nil {
		return nil, err
	}
	if settings.Mode == "" {
		settings.Mode = ModeHybrid
	}
	if settings.FallbackMessage == "" {
		settings.FallbackMessage = DefaultFallbackMessage
	}
	return &Policy{
		settings: settings,
		window:   window,
		index:    index,
		ai:       gen,
		now:      time.Now,
	}, nil
}

// Mode returns the effective decision mode.
func (p *Policy) Mode() Mode { return p.settings.Mode }

// Decide runs the gates in order (disabled, self-authored, working hours,
// group mention, empty text) and then the mode-specific decision. A nil
// Reply means no reply; the Verdict says why.
//
// msg.SelfID must carry the bot's own id on the channel for self and mention
// gating to work.
func (p *Policy) Decide(ctx context.Context, msg bus.InboundMessage, session *sessions.Session) (*Reply, Verdict) {
	if !p.settings.Enabled {
		return nil, GateDisabled
	}
	if msg.FromSelf || (msg.SelfID != "" && msg.SenderID == msg.SelfID) {
		return nil, GateSelf
	}
	if !p.window.Open(p.now()) {
		return nil, GateOffHours
	}
	if msg.IsGroup() && (msg.SelfID == "" || !slices.Contains(msg.Mentions, msg.SelfID)) {
		return nil, GateNoMention
	}

	text := trimRunes(strings.TrimSpace(msg.Content), MaxInputRunes)
	if text == "" {
		return nil, GateEmpty
	}

	switch p.settings.Mode {
	case ModeKeyword:
		if r := p.keywordReply(text); r != nil {
			return r, Resolved
		}
		return nil, NoMatch
	case ModeAI:
		return p.aiReply(ctx, text, session), Resolved
	case ModeHybrid:
		if r := p.keywordReply(text); r != nil {
			return r, Resolved
		}
		return p.aiReply(ctx, text, session), Resolved
	default:
		return p.fallback(ReasonUnknownMode), Resolved
	}
}

func (p *Policy) keywordReply(text string) *Reply {
	m, ok := p.index.Lookup(keyword.Normalize(text))
	if !ok {
		return nil
	}
	meta := map[string]string{"keyword": m.Keyword}
	if m.Fuzzy {
		meta["fuzzy"] = "true"
	} else {
		meta["fuzzy"] = "false"
	}
	return newReply(KindKeyword, m.Rule.Response, meta, p.now())
}

func (p *Policy) aiReply(ctx context.Context, text string, session *sessions.Session) *Reply {
	if p.ai == nil {
		return p.fallback(ReasonAIUnavailable)
	}

	var history []sessions.Entry
	if session != nil {
		history = session.History()
	}

	content, err := p.ai.Generate(ctx, text, history)
	if err != nil {
		slog.Warn("ai reply failed, using fallback", "conversation_id", session.ID(), "error", err)
		return p.fallback(ReasonAIFailed)
	}

	return newReply(KindAI, content, map[string]string{
		"provider": p.settings.AIProvider,
		"model":    p.settings.AIModel,
	}, p.now())
}

func (p *Policy) fallback(reason string) *Reply {
	return newReply(KindFallback, p.settings.FallbackMessage, map[string]string{
		bus.MetaReason: reason,
	}, p.now())
}

func trimRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
