// Package channels connects chat platforms (WhatsApp, Telegram) to the
// reply engine. A channel turns platform events into bus.InboundMessage
// values and delivers outbound replies; everything in between belongs to
// the engine.
//
// Channel-level filtering is limited to DM/group policies and the
// allowlist. Self-authored messages and mention gating are left to the
// reply policy so that they show up in its verdicts.
package channels

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted groups
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "whatsapp", "telegram").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	router    bus.MessageRouter
	running   atomic.Bool
	allowList []string
	accountID string // dashboard account that owns this channel's events

	mu     sync.RWMutex
	selfID string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		router:    router,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// AccountID returns the account notifications for this channel are scoped to.
func (c *BaseChannel) AccountID() string { return c.accountID }

// SetAccountID sets the owning account.
func (c *BaseChannel) SetAccountID(id string) { c.accountID = id }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// SelfID returns the platform id of the connected account, empty until ready.
func (c *BaseChannel) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		// Strip leading "@" from allowed value for username matching
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// CheckPolicy evaluates DM/Group policy for a message.
// Returns true if the message should be accepted, false if rejected.
// dmPolicy/groupPolicy: "open" (default), "allowlist", "disabled".
func (c *BaseChannel) CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID string) bool {
	policy := dmPolicy
	if peerKind == bus.PeerGroup {
		policy = groupPolicy
	}

	switch policy {
	case string(DMPolicyDisabled):
		return false
	case string(DMPolicyAllowlist):
		return c.IsAllowed(senderID)
	default: // "open"
		return true
	}
}

// HandleMessage stamps msg with this channel's identity and publishes it.
// Messages from senders outside the allowlist are dropped.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	if !msg.FromSelf && !c.IsAllowed(msg.SenderID) {
		return
	}
	msg.Kind = bus.EventMessage
	msg.Channel = c.name
	msg.AccountID = c.accountID
	if msg.SelfID == "" {
		msg.SelfID = c.SelfID()
	}
	if msg.PeerKind == "" {
		msg.PeerKind = bus.PeerDirect
	}
	c.router.PublishInbound(msg)
}

// PublishReady records the connected account id and tells the engine.
func (c *BaseChannel) PublishReady(selfID string) {
	c.mu.Lock()
	c.selfID = selfID
	c.mu.Unlock()

	c.router.PublishInbound(bus.InboundMessage{
		Kind:      bus.EventReady,
		Channel:   c.name,
		SelfID:    selfID,
		AccountID: c.accountID,
	})
}

// PublishDisconnected tells the engine the upstream connection dropped.
func (c *BaseChannel) PublishDisconnected(reason string) {
	c.router.PublishInbound(bus.InboundMessage{
		Kind:      bus.EventDisconnected,
		Channel:   c.name,
		AccountID: c.accountID,
		Metadata:  map[string]string{bus.MetaReason: reason},
	})
}

// Truncate shortens s to maxWidth terminal cells, appending "..." if truncated.
func Truncate(s string, maxWidth int) string {
	return runewidth.Truncate(s, maxWidth, "...")
}
