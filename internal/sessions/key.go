// Package sessions keeps per-conversation state for the reply engine.
//
// Conversation keys identify one chat on one channel:
//
//	{channel}:{peerKind}:{chatId}
//
// Examples:
//
//	whatsapp:direct:84901234567@s.whatsapp.net
//	whatsapp:group:120363025@g.us
//	telegram:group:-100123456
//
// Chat ids may themselves contain ':' so parsing splits on the first two only.
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// ConversationKey builds the canonical conversation id for a channel chat.
func ConversationKey(channel string, kind PeerKind, chatID string) string {
	if kind == "" {
		kind = PeerDirect
	}
	return fmt.Sprintf("%s:%s:%s", channel, kind, chatID)
}

// ParseConversationKey splits a conversation id into its parts.
// Returns ok=false if the key is not in the expected format.
func ParseConversationKey(key string) (channel string, kind PeerKind, chatID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	switch PeerKind(parts[1]) {
	case PeerDirect, PeerGroup:
	default:
		return "", "", "", false
	}
	return parts[0], PeerKind(parts[1]), parts[2], true
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
