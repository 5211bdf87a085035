package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/channels/typing"
)

// handleMessage processes an incoming Telegram update.
func (c *Channel) handleMessage(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil || isServiceMessage(message) {
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	if !c.IsAllowed(userID) && !c.IsAllowed(senderID) {
		slog.Debug("telegram message rejected by allowlist", "user_id", userID, "username", user.Username)
		return
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	chatID := message.Chat.ID
	chatIDStr := fmt.Sprintf("%d", chatID)

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", chatID,
		"is_group", isGroup,
		"user_id", user.ID,
		"username", user.Username,
	)

	content := ""
	if message.Text != "" {
		content += message.Text
	}
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	mediaList := c.resolveMedia(ctx, message)
	var mediaPaths []string

	if len(mediaList) > 0 {
		var extraContent string
		for i := range mediaList {
			m := &mediaList[i]

			switch m.Type {
			case "audio", "voice":
				transcript, sttErr := c.transcribeAudio(ctx, m.FilePath)
				if sttErr != nil {
					slog.Warn("telegram: STT transcription failed, falling back to media placeholder",
						"type", m.Type, "error", sttErr,
					)
				} else {
					m.Transcript = transcript
				}

			case "document":
				if m.FileName != "" && m.FilePath != "" {
					docContent, err := extractDocumentContent(m.FilePath, m.FileName)
					if err != nil {
						slog.Warn("document extraction failed", "file", m.FileName, "error", err)
					} else if docContent != "" {
						extraContent += "\n\n" + docContent
					}
				}

			case "video", "animation":
				if content == "" {
					extraContent += "\n\n[Video received — video content analysis is not yet supported, only caption text is processed]"
				}
			}

			if m.FilePath != "" {
				mediaPaths = append(mediaPaths, m.FilePath)
			}
		}

		mediaTags := buildMediaTags(mediaList)
		if mediaTags != "" {
			if content != "" {
				content = mediaTags + "\n\n" + content
			} else {
				content = mediaTags
			}
		}

		if extraContent != "" {
			content += extraContent
		}
	}

	if content == "" {
		content = "[empty message]"
	}

	if handled := c.handleBotCommand(ctx, chatID, chatIDStr, content, senderID); handled {
		return
	}

	senderLabel := user.FirstName
	if user.Username != "" {
		senderLabel = "@" + user.Username
	}

	// Mention gating in groups: requires an explicit @mention or a reply to
	// the bot's own message, otherwise the turn is buffered as context for
	// whenever the bot is next addressed.
	if isGroup {
		wasMentioned := c.detectMention(message, c.bot.Username())
		if !wasMentioned && message.ReplyToMessage != nil && message.ReplyToMessage.From != nil &&
			message.ReplyToMessage.From.Username == c.bot.Username() {
			wasMentioned = true
		}

		if !wasMentioned {
			c.groupHistory.Record(chatIDStr, channels.HistoryEntry{
				Sender:    senderLabel,
				Body:      content,
				Timestamp: time.Unix(int64(message.Date), 0),
				MessageID: fmt.Sprintf("%d", message.MessageID),
			}, channels.DefaultGroupHistoryLimit)
			return
		}
	}

	finalContent := content
	if isGroup {
		annotated := fmt.Sprintf("[From: %s]\n%s", senderLabel, content)
		finalContent = c.groupHistory.BuildContext(chatIDStr, annotated, channels.DefaultGroupHistoryLimit)
	}

	// Typing indicator with keepalive + TTL safety net. Telegram's typing
	// indicator expires after ~5s, so it is refreshed every 4s.
	chatIDObj := tu.ID(chatID)
	typingCtrl := typing.New(typing.Options{
		MaxDuration:       60 * time.Second,
		KeepaliveInterval: 4 * time.Second,
		StartFn: func() error {
			return c.bot.SendChatAction(ctx, tu.ChatAction(chatIDObj, telego.ChatActionTyping))
		},
	})
	if prev, ok := c.typingCtrls.Load(chatIDStr); ok {
		prev.(*typing.Controller).Stop()
	}
	c.typingCtrls.Store(chatIDStr, typingCtrl)

	// Placeholder message for DMs only — in groups the reply is sent as a
	// fresh message instead of edited, since the placeholder would drift
	// away as other messages arrive.
	if !isGroup {
		pMsg, err := c.bot.SendMessage(ctx, tu.Message(chatIDObj, "Thinking..."))
		if err == nil {
			c.placeholders.Store(chatIDStr, pMsg.MessageID)
		}
	}

	peerKind := "direct"
	if isGroup {
		peerKind = "group"
	}

	c.Bus().PublishInbound(bus.InboundMessage{
		Channel:      c.Name(),
		SenderID:     senderID,
		ChatID:       chatIDStr,
		Content:      finalContent,
		Media:        mediaPaths,
		PeerKind:     peerKind,
		HistoryLimit: channels.DefaultGroupHistoryLimit,
		Metadata: map[string]string{
			"message_id": fmt.Sprintf("%d", message.MessageID),
			"user_id":    userID,
			"username":   user.Username,
			"first_name": user.FirstName,
			"is_group":   fmt.Sprintf("%t", isGroup),
		},
	})

	if isGroup {
		c.groupHistory.Clear(chatIDStr)
	}
}

// detectMention checks if a Telegram message mentions the bot, via entity,
// plain-text substring, or reply-to-bot.
func (c *Channel) detectMention(msg *telego.Message, botUsername string) bool {
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
			if entity.Type == "mention" {
				mentioned := pair.text[entity.Offset : entity.Offset+entity.Length]
				if strings.EqualFold(mentioned, "@"+botUsername) {
					return true
				}
			}
		}
	}

	if msg.Text != "" && strings.Contains(strings.ToLower(msg.Text), "@"+lowerBot) {
		return true
	}
	if msg.Caption != "" && strings.Contains(strings.ToLower(msg.Caption), "@"+lowerBot) {
		return true
	}

	return false
}

// isServiceMessage returns true for service/system messages (member
// added/removed, title changed, pinned, etc.) with no user content.
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
