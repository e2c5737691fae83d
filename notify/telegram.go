package notify

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Sender is the part of *tgbotapi.BotAPI used for outbound messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram pushes HTML-formatted messages to one chat.
type Telegram struct {
	sender Sender
	chatID int64
	log    logrus.FieldLogger
}

// NewTelegram returns a notifier for chatID. A nil sender or zero chat ID
// yields a notifier that only logs.
func NewTelegram(sender Sender, chatID int64, log logrus.FieldLogger) *Telegram {
	if sender == nil || chatID == 0 {
		log.Warn("⚠️  [Notify] Telegram credentials missing, notifications will only be logged")
	}
	return &Telegram{sender: sender, chatID: chatID, log: log}
}

func (t *Telegram) Notify(msg string) {
	if t.sender == nil || t.chatID == 0 {
		t.log.Infof("📨 [Notify] %s", msg)
		return
	}
	m := tgbotapi.NewMessage(t.chatID, msg)
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := t.sender.Send(m); err != nil {
		t.log.WithError(err).Warn("⚠️  [Notify] Telegram send failed, message dropped")
	}
}
