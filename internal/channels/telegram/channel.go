package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/channels/typing"
	"github.com/omegacore/omegad/internal/config"
)

// Channel connects to Telegram via the Bot API using long polling. Scope is
// a single owner's direct messages plus any chats in allowed_users — there
// is no pairing flow, forum-topic routing, or multi-tenant group policy.
type Channel struct {
	*channels.BaseChannel
	bot          *telego.Bot
	botToken     string
	config       config.TelegramConfig
	placeholders sync.Map // chatIDStr -> messageID int
	typingCtrls  sync.Map // chatIDStr -> *typing.Controller
	groupHistory *channels.PendingHistory
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	allowList := make([]string, 0, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowList = append(allowList, fmt.Sprintf("%d", id))
	}
	base := channels.NewBaseChannel("telegram", msgBus, allowList)

	return &Channel{
		BaseChannel:  base,
		bot:          bot,
		botToken:     cfg.BotToken,
		config:       cfg,
		groupHistory: channels.NewPendingHistory(),
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		commands := DefaultMenuCommands()
		for attempt := 1; attempt <= 3; attempt++ {
			if err := c.SyncMenuCommands(pollCtx, commands); err != nil {
				slog.Warn("failed to sync telegram menu commands", "error", err, "attempt", attempt)
				if attempt < 3 {
					select {
					case <-pollCtx.Done():
						return
					case <-time.After(time.Duration(attempt*5) * time.Second):
					}
				}
			} else {
				slog.Info("telegram menu commands synced")
				return
			}
		}
	}()

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit, so Telegram releases the
// getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	for _, v := range []*sync.Map{&c.typingCtrls} {
		v.Range(func(_, val interface{}) bool {
			val.(*typing.Controller).Stop()
			return true
		})
	}

	return nil
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}
