package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	c := NewBaseChannel("telegram", bus.New(), []string{"123", "@bob", "456|carol"})

	tests := []struct {
		sender string
		want   bool
	}{
		{"123", true},
		{"123|alice", true},
		{"999|bob", true},
		{"456", true},
		{"carol", true},
		{"999", false},
		{"999|dave", false},
	}
	for _, tt := range tests {
		if got := c.IsAllowed(tt.sender); got != tt.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tt.sender, got, tt.want)
		}
	}

	open := NewBaseChannel("whatsapp", bus.New(), nil)
	if !open.IsAllowed("anyone") {
		t.Fatal("empty allowlist must allow everyone")
	}
}

func TestCheckPolicy(t *testing.T) {
	c := NewBaseChannel("whatsapp", bus.New(), []string{"vip"})

	tests := []struct {
		peer, dm, group, sender string
		want                    bool
	}{
		{bus.PeerDirect, "", "", "x", true},
		{bus.PeerDirect, "disabled", "", "vip", false},
		{bus.PeerDirect, "allowlist", "", "vip", true},
		{bus.PeerDirect, "allowlist", "", "x", false},
		{bus.PeerGroup, "disabled", "", "x", true},
		{bus.PeerGroup, "", "disabled", "vip", false},
		{bus.PeerGroup, "", "allowlist", "x", false},
	}
	for _, tt := range tests {
		if got := c.CheckPolicy(tt.peer, tt.dm, tt.group, tt.sender); got != tt.want {
			t.Errorf("CheckPolicy(%s, dm=%q, group=%q, %s) = %v, want %v", tt.peer, tt.dm, tt.group, tt.sender, got, tt.want)
		}
	}
}

func receive(t *testing.T, b *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return b.ConsumeInbound(ctx)
}

func TestHandleMessageStampsChannel(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("whatsapp", b, []string{"allowed"})
	c.SetAccountID("acct")
	c.PublishReady("me")

	ready, _ := receive(t, b)
	if ready.Kind != bus.EventReady || ready.SelfID != "me" || c.SelfID() != "me" {
		t.Fatalf("unexpected ready event: %+v", ready)
	}

	c.HandleMessage(bus.InboundMessage{SenderID: "stranger", ChatID: "c", Content: "hi"})
	if _, ok := receive(t, b); ok {
		t.Fatal("message outside the allowlist must be dropped")
	}

	c.HandleMessage(bus.InboundMessage{SenderID: "allowed", ChatID: "c", Content: "hi"})
	msg, ok := receive(t, b)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Kind != bus.EventMessage || msg.Channel != "whatsapp" || msg.AccountID != "acct" ||
		msg.SelfID != "me" || msg.PeerKind != bus.PeerDirect {
		t.Fatalf("message not stamped: %+v", msg)
	}

	c.PublishDisconnected("bridge gone")
	down, _ := receive(t, b)
	if down.Kind != bus.EventDisconnected || down.Metadata[bus.MetaReason] != "bridge gone" {
		t.Fatalf("unexpected disconnect event: %+v", down)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Fatalf("Truncate = %q", got)
	}
	// wide runes take two cells each
	if got := Truncate("xin chào 你好世界", 12); got != "xin chào ..." {
		t.Fatalf("Truncate = %q", got)
	}
}

type fakeChannel struct {
	*BaseChannel
	sent    []bus.OutboundMessage
	sendErr error
}

func (f *fakeChannel) Start(context.Context) error { f.SetRunning(true); return nil }
func (f *fakeChannel) Stop(context.Context) error  { f.SetRunning(false); return nil }
func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func TestManagerSend(t *testing.T) {
	m := NewManager()
	wa := &fakeChannel{BaseChannel: NewBaseChannel("whatsapp", bus.New(), nil)}
	m.RegisterChannel("whatsapp", wa)

	msg := bus.OutboundMessage{Channel: "whatsapp", ChatID: "1", Content: "hi"}
	if err := m.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error before the channel is started")
	}

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if err := m.Send(context.Background(), msg); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if len(wa.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(wa.sent))
	}

	wa.sendErr = errors.New("socket closed")
	if err := m.Send(context.Background(), msg); !errors.Is(err, wa.sendErr) {
		t.Fatalf("expected channel error, got %v", err)
	}
	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "sms"}); err == nil {
		t.Fatal("expected error for unknown channel")
	}

	if st := m.GetStatus(); !st["whatsapp"].Running {
		t.Fatalf("unexpected status: %+v", st)
	}
	_ = m.StopAll(context.Background())
	if wa.IsRunning() {
		t.Fatal("channel still running after StopAll")
	}
}
