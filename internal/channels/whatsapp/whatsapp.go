package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

const maxBackoff = 30 * time.Second

// bridgeFrame is the JSON envelope exchanged with the bridge.
//
//	-> {"type":"ready","id":"84900000000@s.whatsapp.net"}
//	-> {"type":"message","id":"...","from":"...","chat":"...","content":"...",
//	    "from_name":"...","from_me":false,"mentions":["..."]}
//	-> {"type":"disconnected","reason":"..."}
//	<- {"type":"message","to":"...","content":"...","reply_to":"...","link_preview":true}
type bridgeFrame struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	From        string   `json:"from,omitempty"`
	Chat        string   `json:"chat,omitempty"`
	Content     string   `json:"content,omitempty"`
	FromName    string   `json:"from_name,omitempty"`
	FromMe      bool     `json:"from_me,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	To          string   `json:"to,omitempty"`
	ReplyTo     string   `json:"reply_to,omitempty"`
	LinkPreview *bool    `json:"link_preview,omitempty"`
}

// Channel connects to a WhatsApp bridge via WebSocket.
// The bridge (e.g. a whatsapp-web.js or Baileys process) handles the actual
// WhatsApp protocol; this channel just sends/receives JSON frames over WS.
type Channel struct {
	*channels.BaseChannel
	conn   *websocket.Conn
	config config.WhatsAppConfig
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}

	base := channels.NewBaseChannel("whatsapp", router, cfg.AllowFrom)
	base.SetAccountID(cfg.AccountID)

	return &Channel{
		BaseChannel: base,
		config:      cfg,
	}, nil
}

// Start connects to the WhatsApp bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	if err := c.connect(ctx); err != nil {
		// Not fatal: the reconnect loop keeps trying.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop(ctx)

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the WhatsApp channel.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.SetRunning(false)

	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Send delivers an outbound message to the WhatsApp bridge.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	preview := config.BoolOr(c.config.LinkPreview, true) && msg.Metadata[bus.MetaLinkPreview] != "false"
	frame := bridgeFrame{
		Type:        "message",
		To:          msg.ChatID,
		Content:     msg.Content,
		ReplyTo:     msg.Metadata[bus.MetaReplyTo],
		LinkPreview: &preview,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}

	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			// Not connected; reconnect with backoff.
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(ctx); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()

			c.PublishDisconnected(err.Error())
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid whatsapp message JSON", "error", err)
			continue
		}

		switch frame.Type {
		case "ready":
			slog.Info("whatsapp account ready", "self_id", frame.ID)
			c.PublishReady(frame.ID)
		case "disconnected":
			c.PublishDisconnected(frame.Reason)
		case "message":
			c.handleIncomingMessage(frame)
		}
	}
}

// handleIncomingMessage applies DM/group policy and forwards the message.
func (c *Channel) handleIncomingMessage(frame bridgeFrame) {
	senderID := frame.From
	if senderID == "" {
		return
	}

	chatID := frame.Chat
	if chatID == "" {
		chatID = senderID
	}

	// WhatsApp groups have chatID ending in "@g.us"
	peerKind := bus.PeerDirect
	if strings.HasSuffix(chatID, "@g.us") {
		peerKind = bus.PeerGroup
	}

	if !frame.FromMe && !c.CheckPolicy(peerKind, c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		slog.Debug("whatsapp message rejected by policy", "sender_id", senderID, "peer_kind", peerKind)
		return
	}

	metadata := make(map[string]string)
	if frame.ID != "" {
		metadata[bus.MetaMessageID] = frame.ID
	}
	if frame.FromName != "" {
		metadata[bus.MetaUserName] = frame.FromName
	}

	slog.Debug("whatsapp message received",
		"sender_id", senderID,
		"chat_id", chatID,
		"preview", channels.Truncate(frame.Content, 50),
	)

	c.HandleMessage(bus.InboundMessage{
		SenderID: senderID,
		ChatID:   chatID,
		Content:  frame.Content,
		PeerKind: peerKind,
		FromSelf: frame.FromMe,
		Mentions: frame.Mentions,
		Metadata: metadata,
	})
}
