// Package engine owns the inbound loop: it consumes channel events from the
// bus, asks the reply policy what to do and hands replies to the dispatcher.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/autoreply/internal/autoreply"
	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/dispatch"
	"github.com/nextlevelbuilder/autoreply/internal/keyword"
	"github.com/nextlevelbuilder/autoreply/internal/sessions"
	"github.com/nextlevelbuilder/autoreply/internal/stats"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
	"github.com/nextlevelbuilder/autoreply/pkg/protocol"
)

// Inbound dedupe window. Bridges and Telegram redeliver after reconnects.
const (
	dedupeTTL  = 20 * time.Minute
	dedupeSize = 5000
)

// Skip reasons reported to metrics in addition to the policy verdicts.
const (
	skipDuplicate   = "duplicate"
	skipRateLimited = "rate_limited"
)

// Runtime is the reloadable part of the engine. A Runtime is never mutated
// after it is handed to the engine; Reload swaps in a new one.
type Runtime struct {
	Policy  *autoreply.Policy
	Delay   time.Duration
	SelfID  string // overrides the id reported by channels when set
	Limiter *channels.ConversationLimiter
}

// FromConfig builds a Runtime from the auto_reply section of cfg. gen may be
// nil when no AI provider is usable.
func FromConfig(cfg *config.Config, gen autoreply.Generator) (*Runtime, error) {
	ar := cfg.AutoReply
	index := keyword.Build(cfg.Rules())

	policy, err := autoreply.NewPolicy(autoreply.Settings{
		Enabled:         ar.Enabled,
		Mode:            autoreply.Mode(ar.ReplyMode),
		FallbackMessage: ar.FallbackMessage,
		WorkingHours: autoreply.WorkingHours{
			Enabled:  ar.WorkingHours.Enabled,
			Timezone: ar.WorkingHours.Timezone,
			Start:    ar.WorkingHours.Start,
			End:      ar.WorkingHours.End,
		},
		AIProvider: ar.AI.Provider,
		AIModel:    ar.AI.Model,
	}, index, gen)
	if err != nil {
		return nil, fmt.Errorf("build reply policy: %w", err)
	}

	slog.Info("reply policy built",
		"mode", policy.Mode(),
		"keywords", index.Len(),
		"ai", gen != nil,
		"delay", ar.ResponseDelay(),
	)

	return &Runtime{
		Policy:  policy,
		Delay:   ar.ResponseDelay(),
		SelfID:  ar.SelfID,
		Limiter: channels.NewConversationLimiter(ar.RepliesPerMinute),
	}, nil
}

// Deps are the long-lived collaborators of an Engine.
type Deps struct {
	Sessions *sessions.Store
	Stats    *stats.Recorder
	Sink     dispatch.Sink
	Events   bus.EventPublisher // optional
	Metrics  *stats.Metrics     // optional
}

type handlerFunc func(ctx context.Context, msg bus.InboundMessage)

// Engine routes inbound channel events. All exported methods are safe for
// concurrent use.
type Engine struct {
	runtime   atomic.Pointer[Runtime]
	sessions  *sessions.Store
	stats     *stats.Recorder
	scheduler *dispatch.Scheduler
	events    bus.EventPublisher
	metrics   *stats.Metrics
	log       *slog.Logger

	handlers map[bus.EventKind]handlerFunc
	seen     *expirable.LRU[string, struct{}]

	selfMu  sync.RWMutex
	selfIDs map[string]string // channel -> id reported on ready

	wg sync.WaitGroup
}

// New creates an engine running rt.
func New(rt *Runtime, deps Deps) *Engine {
	if deps.Sessions == nil {
		deps.Sessions = sessions.NewStore(sessions.DefaultMaxSessions)
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewRecorder(nil)
	}
	e := &Engine{
		sessions:  deps.Sessions,
		stats:     deps.Stats,
		scheduler: dispatch.NewScheduler(deps.Sink),
		events:    deps.Events,
		metrics:   deps.Metrics,
		log:       slog.Default().With("component", "engine"),
		seen:      expirable.NewLRU[string, struct{}](dedupeSize, nil, dedupeTTL),
		selfIDs:   make(map[string]string),
	}
	e.runtime.Store(rt)
	e.handlers = map[bus.EventKind]handlerFunc{
		bus.EventMessage:      e.handleMessage,
		bus.EventReady:        e.handleReady,
		bus.EventDisconnected: e.handleDisconnected,
	}
	return e
}

// Reload swaps the runtime. Messages already being decided keep the old one.
func (e *Engine) Reload(rt *Runtime) {
	if rt == nil {
		return
	}
	e.runtime.Store(rt)
	e.log.Info("engine runtime reloaded", "mode", rt.Policy.Mode())
}

// Run consumes the router until ctx is cancelled. Each message is handled on
// its own goroutine; work already started is detached from ctx so that
// Drain can let it finish.
func (e *Engine) Run(ctx context.Context, router bus.MessageRouter) {
	e.log.Info("inbound consumer started")
	defer e.log.Info("inbound consumer stopped")

	work := context.WithoutCancel(ctx)
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			return
		}
		e.Handle(work, msg)
	}
}

// Handle routes one event. Message events return immediately and are
// processed in the background.
func (e *Engine) Handle(ctx context.Context, msg bus.InboundMessage) {
	h, ok := e.handlers[msg.Kind]
	if !ok {
		e.log.Warn("unhandled inbound event", "kind", msg.Kind, "channel", msg.Channel)
		return
	}
	if msg.Kind != bus.EventMessage {
		h(ctx, msg)
		return
	}
	if e.duplicate(msg) {
		e.metrics.Skipped(skipDuplicate)
		e.log.Debug("duplicate inbound message dropped", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		h(ctx, msg)
	}()
}

// Drain waits for in-flight message handlers and then for pending
// dispatches, or until ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("message handlers not drained: %w", ctx.Err())
	}
	return e.scheduler.Wait(ctx)
}

// SelfID returns the bot's own id on channel: the configured override, or
// the id the channel reported when it became ready.
func (e *Engine) SelfID(channel string) string {
	if id := e.runtime.Load().SelfID; id != "" {
		return id
	}
	e.selfMu.RLock()
	defer e.selfMu.RUnlock()
	return e.selfIDs[channel]
}

func (e *Engine) duplicate(msg bus.InboundMessage) bool {
	id := msg.Metadata[bus.MetaMessageID]
	if id == "" {
		return false
	}
	key := msg.Channel + ":" + msg.ChatID + ":" + id
	if e.seen.Contains(key) {
		return true
	}
	e.seen.Add(key, struct{}{})
	return false
}

func (e *Engine) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	rt := e.runtime.Load()

	if rt.SelfID != "" {
		msg.SelfID = rt.SelfID
	} else if msg.SelfID == "" {
		msg.SelfID = e.SelfID(msg.Channel)
	}

	convID := sessions.ConversationKey(msg.Channel, sessions.PeerKindFromGroup(msg.IsGroup()), msg.ChatID)
	ctx, span := tracing.Start(ctx, tracing.SpanHandleMessage,
		attribute.String(tracing.AttrChannel, msg.Channel),
		attribute.String(tracing.AttrConversationID, convID),
	)
	defer tracing.End(span, nil)

	// Self-authored traffic is not a conversation turn.
	var session *sessions.Session
	if !msg.FromSelf && (msg.SelfID == "" || msg.SenderID != msg.SelfID) {
		session = e.sessions.GetOrCreate(convID)
	}

	reply, verdict := rt.Policy.Decide(ctx, msg, session)
	span.SetAttributes(attribute.String(tracing.AttrVerdict, verdict.String()))
	if reply == nil {
		e.metrics.Skipped(verdict.String())
		e.log.Debug("no reply", "channel", msg.Channel, "chat_id", msg.ChatID, "verdict", verdict)
		return
	}
	span.SetAttributes(attribute.String(tracing.AttrReplyKind, string(reply.Kind)))

	if !rt.Limiter.Allow(convID) {
		e.metrics.Skipped(skipRateLimited)
		e.log.Warn("reply rate limited", "channel", msg.Channel, "chat_id", msg.ChatID, "kind", reply.Kind)
		return
	}

	target := dispatch.Target{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		ReplyTo:     msg.Metadata[bus.MetaMessageID],
		LinkPreview: true,
	}
	userText := strings.TrimSpace(msg.Content)

	e.scheduler.Go(ctx, reply, target, rt.Delay, func(r *autoreply.Reply, err error) {
		payload := protocol.ReplyPayload{
			ReplyID:        r.ID,
			Channel:        msg.Channel,
			ChatID:         msg.ChatID,
			ConversationID: convID,
			Kind:           string(r.Kind),
			Content:        r.Content,
			Metadata:       r.Metadata,
			CreatedAt:      r.CreatedAt,
		}
		if err != nil {
			e.metrics.DispatchFailed(msg.Channel)
			payload.Error = r.SendError
			e.broadcast(msg.AccountID, protocol.EventReplyFailed, payload)
			return
		}

		if session != nil {
			e.sessions.AppendTurn(session, userText, r.Content)
		}
		e.stats.Record(r.Kind)
		e.broadcast(msg.AccountID, protocol.EventReplySent, payload)
		e.broadcast("", protocol.EventStats, statsPayload(e.stats.Snapshot()))
	})
}

func (e *Engine) handleReady(_ context.Context, msg bus.InboundMessage) {
	if msg.SelfID != "" {
		e.selfMu.Lock()
		e.selfIDs[msg.Channel] = msg.SelfID
		e.selfMu.Unlock()
	}
	e.log.Info("channel ready", "channel", msg.Channel, "self_id", msg.SelfID)
	e.broadcast(msg.AccountID, protocol.EventChannelReady, protocol.ChannelPayload{
		Channel: msg.Channel,
		SelfID:  msg.SelfID,
	})
}

func (e *Engine) handleDisconnected(_ context.Context, msg bus.InboundMessage) {
	reason := msg.Metadata[bus.MetaReason]
	e.log.Warn("channel disconnected", "channel", msg.Channel, "reason", reason)
	e.broadcast(msg.AccountID, protocol.EventChannelDisconnected, protocol.ChannelPayload{
		Channel: msg.Channel,
		Reason:  reason,
	})
}

func (e *Engine) broadcast(accountID, name string, payload any) {
	if e.events == nil {
		return
	}
	e.events.Broadcast(bus.Event{Name: name, AccountID: accountID, Payload: payload})
}

func statsPayload(c stats.Counters) protocol.StatsPayload {
	return protocol.StatsPayload{
		TotalReplies:    c.TotalReplies,
		KeywordMatches:  c.KeywordMatches,
		AIReplies:       c.AIReplies,
		FallbackReplies: c.FallbackReplies,
	}
}
