package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

// fakeBridge accepts one WebSocket client, pushes frames to it and records
// what the client sends back.
type fakeBridge struct {
	srv      *httptest.Server
	push     chan bridgeFrame
	received chan bridgeFrame
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		push:     make(chan bridgeFrame, 8),
		received: make(chan bridgeFrame, 8),
	}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				var f bridgeFrame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				fb.received <- f
			}
		}()
		for {
			select {
			case f := <-fb.push:
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func next(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("timed out waiting for inbound message")
	}
	return msg
}

func TestBridgeRoundTrip(t *testing.T) {
	fb := newFakeBridge(t)
	b := bus.New()
	noPreview := false
	ch, err := New(config.WhatsAppConfig{BridgeURL: fb.url(), AccountID: "acct-9", LinkPreview: &noPreview}, b)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if err := ch.Start(t.Context()); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	defer ch.Stop(context.Background())

	fb.push <- bridgeFrame{Type: "ready", ID: "bot@s.whatsapp.net"}
	ready := next(t, b)
	if ready.Kind != bus.EventReady || ready.SelfID != "bot@s.whatsapp.net" || ready.AccountID != "acct-9" {
		t.Fatalf("unexpected ready event: %+v", ready)
	}

	fb.push <- bridgeFrame{
		Type:     "message",
		ID:       "MSG1",
		From:     "84901@s.whatsapp.net",
		Chat:     "123@g.us",
		Content:  "@bot price?",
		FromName: "Lan",
		Mentions: []string{"bot@s.whatsapp.net"},
	}
	msg := next(t, b)
	if msg.Kind != bus.EventMessage || msg.PeerKind != bus.PeerGroup || msg.ChatID != "123@g.us" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.SelfID != "bot@s.whatsapp.net" || len(msg.Mentions) != 1 {
		t.Fatalf("self id or mentions missing: %+v", msg)
	}
	if msg.Metadata[bus.MetaMessageID] != "MSG1" || msg.Metadata[bus.MetaUserName] != "Lan" {
		t.Fatalf("unexpected metadata: %v", msg.Metadata)
	}

	err = ch.Send(context.Background(), bus.OutboundMessage{
		Channel:  "whatsapp",
		ChatID:   "123@g.us",
		Content:  "See our price list",
		Metadata: map[string]string{bus.MetaReplyTo: "MSG1", bus.MetaLinkPreview: "true"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	select {
	case f := <-fb.received:
		if f.Type != "message" || f.To != "123@g.us" || f.ReplyTo != "MSG1" {
			t.Fatalf("unexpected outbound frame: %+v", f)
		}
		if f.LinkPreview == nil || *f.LinkPreview {
			t.Fatal("link preview disabled in config must win")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not receive the reply")
	}
}

func TestFromMeBypassesPolicy(t *testing.T) {
	b := bus.New()
	ch, err := New(config.WhatsAppConfig{BridgeURL: "ws://unused", DMPolicy: "disabled"}, b)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}

	ch.handleIncomingMessage(bridgeFrame{Type: "message", From: "1@s.whatsapp.net", Content: "hi"})
	ch.handleIncomingMessage(bridgeFrame{Type: "message", From: "me@s.whatsapp.net", Content: "sent from phone", FromMe: true})

	msg := next(t, b)
	if !msg.FromSelf || msg.Content != "sent from phone" || msg.PeerKind != bus.PeerDirect {
		t.Fatalf("expected only the self-authored message, got %+v", msg)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	ch, err := New(config.WhatsAppConfig{BridgeURL: "ws://unused"}, bus.New())
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "x", Content: "y"}); err == nil {
		t.Fatal("expected error when bridge is not connected")
	}
}

func TestNewRequiresBridgeURL(t *testing.T) {
	if _, err := New(config.WhatsAppConfig{}, bus.New()); err == nil {
		t.Fatal("expected error for missing bridge_url")
	}
}

func TestFrameEncoding(t *testing.T) {
	data, _ := json.Marshal(bridgeFrame{Type: "message", To: "a", Content: "b"})
	if strings.Contains(string(data), "from_me") || strings.Contains(string(data), "link_preview") {
		t.Fatalf("unset fields should be omitted: %s", data)
	}
}
