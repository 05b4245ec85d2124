package protocol

import "time"

// WebSocket event names pushed from server to dashboard clients.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Auto-reply lifecycle events (payload: ReplyPayload).
	EventReplySent   = "autoreply.sent"
	EventReplyFailed = "autoreply.failed"

	// Periodic counter snapshot (payload: StatsPayload).
	EventStats = "autoreply.stats"

	// Channel connection state (payload: ChannelPayload).
	EventChannelReady        = "channel.ready"
	EventChannelDisconnected = "channel.disconnected"
)

// EventFrame is the JSON envelope written to /events subscribers.
type EventFrame struct {
	Type      string `json:"type"` // always "event"
	Event     string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"ts"` // unix ms
}

// NewEvent builds an event frame stamped with the current time.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{
		Type:      "event",
		Event:     name,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ReplyPayload describes one dispatched reply.
type ReplyPayload struct {
	ReplyID        string            `json:"reply_id"`
	Channel        string            `json:"channel"`
	ChatID         string            `json:"chat_id"`
	ConversationID string            `json:"conversation_id"`
	Kind           string            `json:"kind"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StatsPayload mirrors the persisted counters.
type StatsPayload struct {
	TotalReplies    uint64 `json:"total_replies"`
	KeywordMatches  uint64 `json:"keyword_matches"`
	AIReplies       uint64 `json:"ai_replies"`
	FallbackReplies uint64 `json:"fallback_replies"`
}

// ChannelPayload reports a channel connection change.
type ChannelPayload struct {
	Channel string `json:"channel"`
	SelfID  string `json:"self_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
