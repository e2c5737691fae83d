package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"autoexit/broker"
	"autoexit/config"
	"autoexit/logger"
	"autoexit/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// health_check verifies the broker session and the chat channel, then reports
// the result to chat.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	envPath := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		logrus.WithError(err).Fatal("❌ load config")
	}
	base, closer, err := logger.New(logger.Options{Level: "info"})
	if err != nil {
		logrus.WithError(err).Fatal("❌ logger")
	}
	defer closer.Close()
	log := logger.Component(base, "health_check")

	s := cfg.Secrets
	log.Infof("🔑 API Key: %s", config.MaskSecret(s.KiteAPIKey, 4))
	log.Infof("🎟 Access Token: %s", config.MaskSecret(s.KiteAccessToken, 4))
	log.Infof("💬 Telegram Chat ID: %d", s.TelegramChatID)
	if s.KiteAPIKey == "" || s.KiteAccessToken == "" || s.TelegramBotToken == "" || s.TelegramChatID == 0 {
		log.Error("❌ Missing one or more environment variables (KITE or Telegram)")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	message, healthy := checkKite(ctx, cfg, log)

	bot, err := tgbotapi.NewBotAPI(s.TelegramBotToken)
	if err != nil {
		log.WithError(err).Error("❌ Telegram login failed")
		os.Exit(1)
	}
	notify.NewTelegram(bot, s.TelegramChatID, log).Notify(message)
	log.Info("📨 Telegram alert sent")

	if !healthy {
		os.Exit(1)
	}
}

func checkKite(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (string, bool) {
	kite, err := broker.NewKiteGateway(broker.KiteOptions{
		APIKey:      cfg.Secrets.KiteAPIKey,
		AccessToken: cfg.Secrets.KiteAccessToken,
		MaxRetries:  1,
	}, log)
	if err == nil {
		err = kite.CheckConnection(ctx)
	}
	if err != nil {
		log.WithError(err).Error("❌ Kite connection failed")
		return fmt.Sprintf("❌ <b>Health Check Failed</b>\nError: %v", err), false
	}
	log.Info("✅ Kite API connection successful")
	return "✅ <b>Health Check Passed</b>\nKite API connection successful.\n🚀 All systems operational.", true
}
