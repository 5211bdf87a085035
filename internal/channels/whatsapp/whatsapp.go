// Package whatsapp connects the gateway to WhatsApp directly over the
// multi-device protocol via whatsmeow, instead of through a bridge process.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/config"
)

const messageChunkLimit = 4096

// slogAdapter bridges whatsmeow's logger interface onto log/slog, matching
// the ambient logging the rest of the gateway uses.
type slogAdapter struct{ quiet bool }

func (l slogAdapter) Errorf(msg string, args ...interface{}) { slog.Error(fmt.Sprintf(msg, args...)) }
func (l slogAdapter) Warnf(msg string, args ...interface{})  { slog.Warn(fmt.Sprintf(msg, args...)) }
func (l slogAdapter) Infof(msg string, args ...interface{}) {
	if !l.quiet {
		slog.Info(fmt.Sprintf(msg, args...))
	}
}
func (l slogAdapter) Debugf(msg string, args ...interface{}) {}
func (l slogAdapter) Sub(string) waLog.Logger                { return l }

// Channel connects to WhatsApp via whatsmeow. Direct messages only — group
// chats are rejected the same way the bridge-based teacher implementation
// scoped group support out.
type Channel struct {
	*channels.BaseChannel
	client     *whatsmeow.Client
	cfg        config.WhatsAppConfig
	dbPath     string
	ctx        context.Context
	cancel     context.CancelFunc
	typingMu   sync.Mutex
	typingStop map[string]chan struct{}
}

// New creates a WhatsApp channel. dbPath is the whatsmeow session store
// (device keys + session state), separate from the gateway's memory.db.
func New(cfg config.WhatsAppConfig, dbPath string, msgBus bus.MessageRouter) (*Channel, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("whatsapp: session db path is required")
	}
	base := channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowedUsers)
	return &Channel{
		BaseChannel: base,
		cfg:         cfg,
		dbPath:      dbPath,
		typingStop:  make(map[string]chan struct{}),
	}, nil
}

// Start connects (or pairs, if no session exists yet) and begins receiving.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := ensureDir(c.dbPath); err != nil {
		return err
	}

	container, err := sqlstore.New(ctx, "sqlite", "file:"+c.dbPath+"?_pragma=foreign_keys(1)", slogAdapter{})
	if err != nil {
		return fmt.Errorf("whatsapp: open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: load device: %w", err)
	}

	c.client = whatsmeow.NewClient(device, slogAdapter{})
	c.client.AddEventHandler(c.handleEvent)

	if c.client.Store.ID == nil {
		return c.pairViaQR(ctx)
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}

	c.SetRunning(true)
	slog.Info("whatsapp connected", "user", c.client.Store.ID.User)

	go func() {
		<-ctx.Done()
		c.stopAllTyping()
		c.client.Disconnect()
	}()

	return nil
}

// pairViaQR is invoked automatically on first Start with no stored session,
// and again from TriggerPairing (the WHATSAPP_QR marker's handler) when a
// session has gone stale and needs re-linking.
func (c *Channel) pairViaQR(ctx context.Context) error {
	connected := make(chan struct{}, 1)
	c.client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: get QR channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect for pairing: %w", err)
	}

	slog.Info("whatsapp pairing required — scan the QR code with WhatsApp > Linked Devices")
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, logWriter{})
		case "success":
			slog.Info("whatsapp pairing succeeded")
		case "timeout":
			return fmt.Errorf("whatsapp: QR pairing timed out")
		}
	}

	select {
	case <-connected:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("whatsapp: timed out waiting for post-pairing connection")
	}

	c.SetRunning(true)
	return nil
}

// TriggerPairing re-runs the QR pairing flow on demand, the handler for the
// WHATSAPP_QR marker.
func (c *Channel) TriggerPairing(ctx context.Context) error {
	if c.client != nil && c.client.IsConnected() {
		return nil
	}
	return c.pairViaQR(ctx)
}

// Stop disconnects from WhatsApp.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")
	if c.cancel != nil {
		c.cancel()
	}
	c.stopAllTyping()
	if c.client != nil {
		c.client.Disconnect()
	}
	c.SetRunning(false)
	return nil
}

// Send delivers an outbound message, chunking long text.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	recipient, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid chat id %q: %w", msg.ChatID, err)
	}

	c.stopTyping(msg.ChatID)

	for _, chunk := range chunkMessage(msg.Content, messageChunkLimit) {
		text := chunk
		if _, err := c.client.SendMessage(ctx, recipient, &waProto.Message{Conversation: &text}); err != nil {
			return fmt.Errorf("whatsapp: send: %w", err)
		}
	}
	return nil
}

func (c *Channel) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected, *events.PushNameSetting:
		if err := c.client.SendPresence(c.ctx, types.PresenceAvailable); err != nil {
			slog.Debug("whatsapp: send presence failed", "error", err)
		}
	case *events.Message:
		c.handleMessage(v)
	}
}

func (c *Channel) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe {
		return
	}
	if msg.Info.IsGroup {
		if !c.CheckPolicy("group", "", "disabled", "") {
			return
		}
	}

	senderID := msg.Info.Sender.User
	if !c.IsAllowed(senderID) {
		slog.Debug("whatsapp message rejected by allowlist", "sender_id", senderID)
		return
	}

	_ = c.client.MarkRead(c.ctx, []types.MessageID{msg.Info.ID}, msg.Info.Timestamp, msg.Info.Chat, msg.Info.Sender)

	content := extractText(msg)
	if content == "" {
		return
	}
	content = strings.TrimSpace(content)
	chatID := msg.Info.Chat.String()

	slog.Debug("whatsapp message received", "sender_id", senderID, "chat_id", chatID, "preview", channels.Truncate(content, 50))

	c.startTyping(msg.Info.Chat)

	metadata := map[string]string{
		"message_id": string(msg.Info.ID),
	}
	c.HandleMessage(senderID, chatID, content, nil, metadata, "direct")
}

func extractText(msg *events.Message) string {
	content := ""
	if msg.Message.GetConversation() != "" {
		content = msg.Message.GetConversation()
	} else if msg.Message.GetExtendedTextMessage().GetText() != "" {
		content = msg.Message.GetExtendedTextMessage().GetText()
	}
	if img := msg.Message.GetImageMessage(); img != nil {
		if img.GetCaption() != "" {
			content = img.GetCaption()
		}
		content += "\n[Image received — image understanding is not yet supported on WhatsApp, only caption text is processed]"
	}
	if doc := msg.Message.GetDocumentMessage(); doc != nil {
		if doc.GetCaption() != "" {
			content = doc.GetCaption()
		}
		content += fmt.Sprintf("\n[Document: %s — documents are not yet supported on WhatsApp]", doc.GetFileName())
	}
	return content
}

func (c *Channel) startTyping(jid types.JID) {
	key := jid.String()
	c.typingMu.Lock()
	if stop, ok := c.typingStop[key]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	c.typingStop[key] = stop
	c.typingMu.Unlock()

	go func() {
		_ = c.client.SendChatPresence(c.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		timeout := time.NewTimer(5 * time.Minute)
		defer timeout.Stop()
		for {
			select {
			case <-stop:
				_ = c.client.SendChatPresence(c.ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
				return
			case <-timeout.C:
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				_ = c.client.SendChatPresence(c.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
			}
		}
	}()
}

func (c *Channel) stopTyping(chatID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if stop, ok := c.typingStop[chatID]; ok {
		close(stop)
		delete(c.typingStop, chatID)
	}
}

func (c *Channel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for _, stop := range c.typingStop {
		close(stop)
	}
	c.typingStop = make(map[string]chan struct{})
}

// chunkMessage splits text on rune boundaries so WhatsApp's per-message size
// limit is never exceeded.
func chunkMessage(text string, limit int) []string {
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

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// logWriter adapts qrterminal's io.Writer output into a single slog line per
// QR render instead of writing raw escape sequences to stdout.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	slog.Info("whatsapp QR code", "data", string(p))
	return len(p), nil
}
