package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

func TestMentionsBot(t *testing.T) {
	tests := []struct {
		name string
		msg  *telego.Message
		want bool
	}{
		{
			name: "mention entity",
			msg: &telego.Message{
				Text:     "hey @ShopBot price?",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 4, Length: 8}},
			},
			want: true,
		},
		{
			name: "mention after emoji uses utf16 offsets",
			msg: &telego.Message{
				Text:     "😀 @shopbot",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 3, Length: 8}},
			},
			want: true,
		},
		{
			name: "command addressed to bot",
			msg: &telego.Message{
				Text:     "/start@ShopBot",
				Entities: []telego.MessageEntity{{Type: "bot_command", Offset: 0, Length: 14}},
			},
			want: true,
		},
		{
			name: "caption mention",
			msg:  &telego.Message{Caption: "look @shopbot", Photo: []telego.PhotoSize{{}}},
			want: true,
		},
		{
			name: "reply to bot",
			msg: &telego.Message{
				Text:           "thanks",
				ReplyToMessage: &telego.Message{From: &telego.User{Username: "ShopBot"}},
			},
			want: true,
		},
		{
			name: "other user",
			msg: &telego.Message{
				Text:     "@alice hello",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 0, Length: 6}},
			},
			want: false,
		},
		{
			name: "entity out of range",
			msg: &telego.Message{
				Text:     "hi",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 1, Length: 10}},
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mentionsBot(tt.msg, "ShopBot"); got != tt.want {
				t.Errorf("mentionsBot() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsServiceMessage(t *testing.T) {
	if !isServiceMessage(&telego.Message{NewChatMembers: []telego.User{{ID: 1}}}) {
		t.Error("member join should be a service message")
	}
	if isServiceMessage(&telego.Message{Text: "hi"}) {
		t.Error("text message is not a service message")
	}
	if isServiceMessage(&telego.Message{Sticker: &telego.Sticker{}}) {
		t.Error("sticker is not a service message")
	}
}

func newTestChannel(cfg config.TelegramConfig) (*Channel, *bus.MessageBus) {
	b := bus.New()
	base := channels.NewBaseChannel("telegram", b, cfg.AllowFrom)
	base.SetAccountID("acct-1")
	return &Channel{BaseChannel: base, config: cfg, botID: 42, username: "ShopBot"}, b
}

func consume(t *testing.T, b *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return b.ConsumeInbound(ctx)
}

func TestHandleMessageGroupMention(t *testing.T) {
	c, b := newTestChannel(config.TelegramConfig{})

	c.handleMessage(&telego.Message{
		MessageID: 7,
		From:      &telego.User{ID: 100, Username: "alice", FirstName: "Alice"},
		Chat:      telego.Chat{ID: -500, Type: "supergroup"},
		Text:      "@ShopBot opening hours?",
		Entities:  []telego.MessageEntity{{Type: "mention", Offset: 0, Length: 8}},
	})

	msg, ok := consume(t, b)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	if msg.Kind != bus.EventMessage || msg.Channel != "telegram" || msg.AccountID != "acct-1" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if msg.ChatID != "-500" || msg.PeerKind != bus.PeerGroup || msg.SenderID != "100|alice" {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if msg.SelfID != "42" || len(msg.Mentions) != 1 || msg.Mentions[0] != "42" {
		t.Fatalf("mention not resolved to self id: %+v", msg)
	}
	if msg.Metadata[bus.MetaMessageID] != "7" || msg.Metadata[bus.MetaUserName] != "@alice" {
		t.Fatalf("unexpected metadata: %v", msg.Metadata)
	}
}

func TestHandleMessagePolicies(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelegramConfig
		chat telego.Chat
		pass bool
	}{
		{"open dm", config.TelegramConfig{}, telego.Chat{ID: 100, Type: "private"}, true},
		{"dms disabled", config.TelegramConfig{DMPolicy: "disabled"}, telego.Chat{ID: 100, Type: "private"}, false},
		{"groups disabled", config.TelegramConfig{GroupPolicy: "disabled"}, telego.Chat{ID: -1, Type: "group"}, false},
		{"allowlisted username", config.TelegramConfig{DMPolicy: "allowlist", AllowFrom: []string{"@alice"}}, telego.Chat{ID: 100, Type: "private"}, true},
		{"not allowlisted", config.TelegramConfig{AllowFrom: []string{"999"}}, telego.Chat{ID: 100, Type: "private"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, b := newTestChannel(tt.cfg)
			c.handleMessage(&telego.Message{
				MessageID: 1,
				From:      &telego.User{ID: 100, Username: "alice"},
				Chat:      tt.chat,
				Text:      "hello",
			})
			if _, ok := consume(t, b); ok != tt.pass {
				t.Fatalf("delivered = %v, want %v", ok, tt.pass)
			}
		})
	}
}

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID("-1001234"); err != nil || id != -1001234 {
		t.Fatalf("parseChatID = %d, %v", id, err)
	}
	if _, err := parseChatID("abc"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}
