package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nextlevelbuilder/autoreply/pkg/protocol"
)

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

// Client is one /events subscriber. Events are queued and written by Run;
// a client that falls behind loses events rather than stalling the bus.
type Client struct {
	id      string
	account string
	conn    *websocket.Conn
	send    chan protocol.EventFrame
}

// NewClient wraps an accepted connection. account scopes delivery; empty
// receives everything.
func NewClient(id, account string, conn *websocket.Conn) *Client {
	return &Client{
		id:      id,
		account: account,
		conn:    conn,
		send:    make(chan protocol.EventFrame, clientBuffer),
	}
}

func (c *Client) wants(accountID string) bool {
	return c.account == "" || accountID == "" || accountID == c.account
}

// SendEvent queues an event without blocking.
func (c *Client) SendEvent(event protocol.EventFrame) {
	select {
	case c.send <- event:
	default:
		slog.Warn("events client too slow, dropping event", "id", c.id, "event", event.Event)
	}
}

// Run writes queued events until the peer goes away or shutdown closes.
// The stream is write-only; anything the client sends is discarded.
func (c *Client) Run(ctx context.Context, shutdown <-chan struct{}) {
	ctx = c.conn.CloseRead(ctx)

	for {
		select {
		case ev := <-c.send:
			if err := c.write(ctx, ev); err != nil {
				slog.Debug("events write failed", "id", c.id, "error", err)
				return
			}
		case <-shutdown:
			_ = c.write(ctx, *protocol.NewEvent(protocol.EventShutdown, nil))
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (c *Client) write(ctx context.Context, ev protocol.EventFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, ev)
}
