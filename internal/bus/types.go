package bus

import "context"

// EventKind is the closed set of things a channel can report to the engine.
type EventKind int

const (
	// EventMessage is an inbound chat message.
	EventMessage EventKind = iota
	// EventReady means the channel connected and knows its own id.
	EventReady
	// EventDisconnected means the channel lost its upstream connection.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Peer kinds carried in InboundMessage.PeerKind.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// Metadata keys shared by channels and the engine.
const (
	MetaMessageID   = "message_id"
	MetaUserName    = "user_name"
	MetaReplyTo     = "reply_to_message_id"
	MetaLinkPreview = "link_preview"
	MetaReason      = "reason"
)

// InboundMessage represents something received from a channel (WhatsApp, Telegram).
// For EventReady, SelfID carries the bot's own id and Content is empty.
type InboundMessage struct {
	Kind      EventKind         `json:"kind"`
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	PeerKind  string            `json:"peer_kind,omitempty"` // "direct" or "group"
	FromSelf  bool              `json:"from_self,omitempty"`
	Mentions  []string          `json:"mentions,omitempty"` // ids mentioned in the message
	SelfID    string            `json:"self_id,omitempty"`
	AccountID string            `json:"account_id,omitempty"` // dashboard account owning the channel
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsGroup reports whether the message came from a group chat.
func (m InboundMessage) IsGroup() bool {
	return m.PeerKind == PeerGroup
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Event represents a server-side notification for dashboard clients.
// AccountID scopes delivery; empty means every subscriber.
type Event struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway and the engine to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound routing between channels and the engine.
// Outbound traffic goes straight to the channel manager so that send errors
// reach the dispatcher.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
