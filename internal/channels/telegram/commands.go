package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/omegacore/omegad/internal/bus"
)

// telegramMessageLimit is the Telegram Bot API's max message text length.
const telegramMessageLimit = 4096

// Send delivers an outbound message to Telegram, chunking long text and
// replacing the per-chat "Thinking..." placeholder left by handleMessage
// when one exists.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}
	chatIDObj := tu.ID(chatID)

	if ctrl, ok := c.typingCtrls.LoadAndDelete(msg.ChatID); ok {
		ctrl.(interface{ Stop() }).Stop()
	}

	chunks := chunkMessage(msg.Content, telegramMessageLimit)

	if placeholderID, ok := c.placeholders.LoadAndDelete(msg.ChatID); ok {
		editMsg := tu.EditMessageText(chatIDObj, placeholderID.(int), chunks[0])
		if _, err := c.bot.EditMessageText(ctx, editMsg); err != nil {
			slog.Debug("telegram: edit placeholder failed, sending fresh message", "error", err)
			if _, err := c.bot.SendMessage(ctx, tu.Message(chatIDObj, chunks[0])); err != nil {
				return fmt.Errorf("telegram: send: %w", err)
			}
		}
		chunks = chunks[1:]
	}

	for _, chunk := range chunks {
		if _, err := c.bot.SendMessage(ctx, tu.Message(chatIDObj, chunk)); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}

	for _, att := range msg.Media {
		if att.URL == "" {
			continue
		}
		doc := tu.Document(chatIDObj, tu.FileFromURL(att.URL))
		doc.Caption = att.Caption
		if _, err := c.bot.SendDocument(ctx, doc); err != nil {
			slog.Warn("telegram: send attachment failed", "url", att.URL, "error", err)
		}
	}

	return nil
}

// chunkMessage splits text on rune boundaries so Telegram's per-message size
// limit is never exceeded.
func chunkMessage(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}
	if len(text) <= limit {
		return []string{text}
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// handleBotCommand checks if the message is a known bot command and handles
// it locally rather than forwarding it to the gateway core. Returns true if
// the message was handled.
func (c *Channel) handleBotCommand(ctx context.Context, chatID int64, chatIDStr, text, senderID string) bool {
	if len(text) == 0 || text[0] != '/' {
		return false
	}

	cmd := strings.SplitN(text, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.ToLower(cmd)

	chatIDObj := tu.ID(chatID)
	send := func(s string) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(chatIDObj, s)); err != nil {
			slog.Warn("telegram: command reply failed", "error", err)
		}
	}

	switch cmd {
	case "/start":
		// Let it fall through to the gateway core's greeting handling.
		return false

	case "/help":
		send("Available commands:\n" +
			"/start — Start chatting with the assistant\n" +
			"/help — Show this help message\n" +
			"/reset — Reset conversation history\n" +
			"/status — Show bot status\n" +
			"\nJust send a message to chat with the assistant.")
		return true

	case "/reset":
		c.Bus().PublishInbound(bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: senderID,
			ChatID:   chatIDStr,
			Content:  "/reset",
			PeerKind: "direct",
			Metadata: map[string]string{"command": "reset"},
		})
		send("Conversation history has been reset.")
		return true

	case "/status":
		send(fmt.Sprintf("Bot status: Running\nChannel: Telegram\nBot: @%s", c.bot.Username()))
		return true
	}

	return false
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if len(commands) == 0 {
		return nil
	}
	if len(commands) > 100 {
		commands = commands[:100]
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// DefaultMenuCommands returns the default bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "Start chatting with the assistant"},
		{Command: "help", Description: "Show available commands"},
		{Command: "reset", Description: "Reset conversation history"},
		{Command: "status", Description: "Show bot status"},
	}
}
