// Package autoreply decides whether and how to answer an inbound chat message.
package autoreply

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the source a reply was produced from.
type Kind string

const (
	KindKeyword  Kind = "keyword"
	KindAI       Kind = "ai"
	KindFallback Kind = "fallback"
)

// Mode selects the decision strategy.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeAI      Mode = "ai"
	ModeHybrid  Mode = "hybrid"
)

// Fallback reasons stored in Reply.Metadata["reason"].
const (
	ReasonAIFailed      = "ai_failed"
	ReasonAIUnavailable = "ai_unavailable"
	ReasonUnknownMode   = "unknown_mode"
)

// Reply is one answer produced by the policy. The dispatcher sets Sent or
// SendError exactly once; after that the reply is read-only.
type Reply struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Sent      bool              `json:"sent"`
	SendError string            `json:"send_error,omitempty"`
}

func newReply(kind Kind, content string, meta map[string]string, now time.Time) *Reply {
	if meta == nil {
		meta = map[string]string{}
	}
	return &Reply{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Metadata:  meta,
		CreatedAt: now,
	}
}

// MarkSent records a successful send.
func (r *Reply) MarkSent() {
	r.Sent = true
	r.SendError = ""
}

// MarkFailed records a failed send. A nil err still yields a non-empty SendError.
func (r *Reply) MarkFailed(err error) {
	r.Sent = false
	if err != nil && err.Error() != "" {
		r.SendError = err.Error()
	} else {
		r.SendError = "send failed"
	}
}

// Verdict explains the outcome of Decide.
type Verdict int

const (
	Resolved Verdict = iota
	GateDisabled
	GateSelf
	GateOffHours
	GateNoMention
	GateEmpty
	NoMatch
)

func (v Verdict) String() string {
	switch v {
	case Resolved:
		return "resolved"
	case GateDisabled:
		return "disabled"
	case GateSelf:
		return "self"
	case GateOffHours:
		return "off_hours"
	case GateNoMention:
		return "no_mention"
	case GateEmpty:
		return "empty"
	case NoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// Gated reports whether the message was dropped before any decision was attempted.
func (v Verdict) Gated() bool {
	switch v {
	case GateDisabled, GateSelf, GateOffHours, GateNoMention, GateEmpty:
		return true
	}
	return false
}
