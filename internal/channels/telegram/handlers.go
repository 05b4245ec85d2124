package telegram

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
)

// handleMessage converts a Telegram message into an inbound message.
func (c *Channel) handleMessage(message *telego.Message) {
	// Skip service messages (member added/removed, title changed, etc.).
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	peerKind := bus.PeerDirect
	if message.Chat.Type == "group" || message.Chat.Type == "supergroup" {
		peerKind = bus.PeerGroup
	}

	if !c.CheckPolicy(peerKind, c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		slog.Debug("telegram message rejected by policy",
			"user_id", userID, "username", user.Username, "chat_id", message.Chat.ID, "peer_kind", peerKind,
		)
		return
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	selfID := strconv.FormatInt(c.botID, 10)
	var mentions []string
	if mentionsBot(message, c.username) {
		mentions = append(mentions, selfID)
	}

	userName := user.FirstName
	if user.Username != "" {
		userName = "@" + user.Username
	}

	slog.Debug("telegram message received",
		"sender_id", senderID,
		"chat_id", message.Chat.ID,
		"peer_kind", peerKind,
		"preview", channels.Truncate(content, 60),
	)

	c.HandleMessage(bus.InboundMessage{
		SenderID: senderID,
		ChatID:   strconv.FormatInt(message.Chat.ID, 10),
		Content:  content,
		PeerKind: peerKind,
		FromSelf: c.botID != 0 && user.ID == c.botID,
		Mentions: mentions,
		SelfID:   selfID,
		Metadata: map[string]string{
			bus.MetaMessageID: strconv.Itoa(message.MessageID),
			bus.MetaUserName:  userName,
		},
	})
}

// mentionsBot checks if a Telegram message mentions the bot.
// Checks both msg.Text/Entities (text messages) and msg.Caption/CaptionEntities
// (photo/media messages). A reply to one of the bot's messages counts as a mention.
func mentionsBot(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	lowerBot := strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			mentioned, ok := entityText(pair.text, entity)
			if !ok {
				continue
			}
			switch entity.Type {
			case "mention":
				if strings.EqualFold(mentioned, "@"+botUsername) {
					return true
				}
			case "bot_command":
				if strings.Contains(strings.ToLower(mentioned), "@"+lowerBot) {
					return true
				}
			}
		}
	}

	// Fallback: substring check in both text and caption
	if msg.Text != "" && strings.Contains(strings.ToLower(msg.Text), "@"+lowerBot) {
		return true
	}
	if msg.Caption != "" && strings.Contains(strings.ToLower(msg.Caption), "@"+lowerBot) {
		return true
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		if strings.EqualFold(msg.ReplyToMessage.From.Username, botUsername) {
			return true
		}
	}

	return false
}

// entityText slices an entity out of text. Telegram offsets count UTF-16
// code units, so the slice is taken over the UTF-16 encoding.
func entityText(text string, e telego.MessageEntity) (string, bool) {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
		return "", false
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length])), true
}

// isServiceMessage returns true if the Telegram message is a service/system message
// (member added/removed, title changed, pinned, etc.) rather than a user-sent message.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	return true
}
