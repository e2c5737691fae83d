package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// UpdateSource is the subset of *tgbotapi.BotAPI the bot loop uses.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot long-polls Telegram and answers commands.
type Bot struct {
	api      UpdateSource
	commands *Commands
	timeout  int
	log      logrus.FieldLogger
}

func NewBot(api UpdateSource, commands *Commands, pollTimeoutSeconds int, log logrus.FieldLogger) *Bot {
	if pollTimeoutSeconds <= 0 {
		pollTimeoutSeconds = 30
	}
	return &Bot{api: api, commands: commands, timeout: pollTimeoutSeconds, log: log}
}

// Run blocks until ctx is cancelled or the update channel closes.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info("🤖 [Telegram] Bot started, listening for commands")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("🤖 [Telegram] Bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				b.log.Warn("⚠️  [Telegram] Update channel closed")
				return
			}
			b.handle(ctx, update)
		}
	}
}

func (b *Bot) handle(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	reply := b.commands.Handle(ctx, userID, msg.Chat.ID, msg.Text)
	if reply == "" {
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		b.log.WithError(err).Warn("⚠️  [Telegram] Failed to send reply")
	}
}
