package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"autoexit/api"
	"autoexit/broker"
	"autoexit/config"
	"autoexit/logger"
	"autoexit/metrics"
	"autoexit/monitor"
	"autoexit/notify"
	"autoexit/store"
	"autoexit/strategy"
	"autoexit/telegram"
	"autoexit/trade"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	envPath := flag.String("env", ".env", "path to the .env file with broker and chat credentials")
	once := flag.Bool("once", false, "run a single reconciliation tick and exit")
	issueToken := flag.String("issue-token", "", "print a 24h control API token for this subject and exit")
	flag.Parse()

	if err := run(*configPath, *envPath, *once, *issueToken); err != nil {
		logrus.WithError(err).Error("❌ [AutoExit] Fatal error")
		os.Exit(1)
	}
}

func run(configPath, envPath string, once bool, issueToken string) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if issueToken != "" {
		tok, err := api.IssueToken(cfg.HTTP.JWTSecret, issueToken, 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	base, logCloser, err := logger.New(logger.Options{
		Level:  cfg.System.LogLevel,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	log := logger.Component(base, "main")

	log.Info("============================================================")
	log.Info("🚀 [AutoExit] Starting")
	log.Infof("   Broker: %s | Paper mode: %v | Target: %.2f points",
		cfg.System.Broker, cfg.ExitStrategy.PaperMode, cfg.ExitStrategy.TargetPoints)
	log.Infof("   Kite API key: %s", config.MaskSecret(cfg.Secrets.KiteAPIKey, 4))
	log.Info("============================================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal, err := logger.OpenJournal(cfg.Logging.Dir, cfg.Logging.JournalFile)
	if err != nil {
		return err
	}
	defer journal.Close()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	gateway, err := newGateway(ctx, cfg, logger.Component(base, "kite"))
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := notify.NewHub(64)
	botAPI := newBotAPI(cfg, log)
	var sender notify.Sender
	if botAPI != nil {
		sender = botAPI
	}
	notifier := notify.Multi{
		notify.NewTelegram(sender, cfg.Secrets.TelegramChatID, logger.Component(base, "notify")),
		hub,
	}

	mon, err := monitor.New(ctx, gateway, notifier, monitor.ConfigFrom(cfg), monitor.Options{
		Store:   db,
		Journal: journal,
		Metrics: m,
	}, logger.Component(base, "position_monitor"))
	if err != nil {
		return err
	}

	if once {
		report, err := mon.Tick(ctx)
		if err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		log.Infof("✅ [AutoExit] Single tick done: positions=%d qualifying=%d placed=%d uncovered=%d",
			report.Positions, report.Qualifying, report.Placed, report.Uncovered)
		return nil
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	trader, err := trade.NewManager(gateway, db, cfg.ExitStrategy.PaperMode, logger.Component(base, "trade"))
	if err != nil {
		return err
	}

	if botAPI != nil {
		commands := telegram.NewCommands(mon, cfg.IsAdmin, logger.Component(base, "telegram_bot"),
			telegram.WithTOTP(cfg.Secrets.TelegramTOTP),
			telegram.WithSummary(func(ctx context.Context, day time.Time) (string, error) {
				summary, err := trader.DailySummary(ctx, day)
				if err != nil {
					return "", err
				}
				return summary.Format(), nil
			}),
		)
		bot := telegram.NewBot(botAPI, commands, cfg.Telegram.PollTimeoutSeconds, logger.Component(base, "telegram_bot"))
		goRun(func() { bot.Run(ctx) })
	}

	if cfg.HTTP.Enabled {
		server := api.NewServer(cfg.HTTP, api.Deps{
			Controller: mon,
			Hub:        hub,
			Gatherer:   registry,
			TOTPSecret: cfg.Secrets.TelegramTOTP,
		}, logger.Component(base, "api"))
		goRun(func() {
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("❌ [API] Server failed")
			}
		})
	}

	if err := startStrategies(ctx, cfg, gateway, db, notifier, journal, m, base, goRun); err != nil {
		return err
	}

	mon.Start(ctx)
	<-ctx.Done()

	log.Info("🛑 [AutoExit] Shutdown signal received")
	mon.Stop()
	wg.Wait()
	log.Info("👋 [AutoExit] Stopped")
	return nil
}

func newGateway(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (broker.Gateway, error) {
	if cfg.System.Broker == "simulator" {
		log.Warn("🧪 [Kite] Using the in-memory simulator, no orders reach the exchange")
		return broker.NewSimulator(), nil
	}
	kite, err := broker.NewKiteGateway(broker.KiteOptions{
		APIKey:      cfg.Secrets.KiteAPIKey,
		AccessToken: cfg.Secrets.KiteAccessToken,
		MaxRetries:  cfg.System.MaxAPIRetries,
		BackoffMin:  time.Duration(cfg.System.RetryBackoffSeconds * float64(time.Second)),
	}, log)
	if err != nil {
		return nil, err
	}
	if err := kite.CheckConnection(ctx); err != nil {
		if broker.IsPermanent(err) {
			return nil, fmt.Errorf("kite session rejected, regenerate the access token: %w", err)
		}
		log.WithError(err).Warn("⚠️  [Kite] Connection check failed, continuing")
	}
	return kite, nil
}

// newBotAPI returns nil when chat credentials are missing; the process then
// runs without the chat surface.
func newBotAPI(cfg *config.Config, log logrus.FieldLogger) *tgbotapi.BotAPI {
	if cfg.Secrets.TelegramBotToken == "" || cfg.Secrets.TelegramChatID == 0 {
		log.Warn("⚠️  [Telegram] TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set, chat control disabled")
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Secrets.TelegramBotToken)
	if err != nil {
		log.WithError(err).Warn("⚠️  [Telegram] Bot login failed, chat control disabled")
		return nil
	}
	log.Infof("🤖 [Telegram] Authorized as @%s", bot.Self.UserName)
	return bot
}

func startStrategies(
	ctx context.Context,
	cfg *config.Config,
	gateway broker.Gateway,
	ledger trade.PaperLedger,
	notifier notify.Notifier,
	journal *logger.Journal,
	m *metrics.Metrics,
	base logrus.FieldLogger,
	goRun func(func()),
) error {
	sections := []struct {
		mode strategy.Mode
		cfg  config.StrategyConfig
	}{
		{strategy.ModeSell, cfg.Sell},
		{strategy.ModeBuy, cfg.Buy},
	}
	for _, s := range sections {
		if !s.cfg.Enabled {
			continue
		}
		source, ok := gateway.(strategy.CandleSource)
		if !ok {
			return errors.New("gateway does not provide historical candles")
		}
		log := logger.Component(base, "strategy")
		trader, err := trade.NewManager(gateway, ledger, s.cfg.PaperMode, logger.Component(base, "trade"))
		if err != nil {
			return err
		}
		runner, err := strategy.NewRunner(s.mode, s.cfg, strategy.RunnerDeps{
			Source:   source,
			Notifier: notifier,
			Journal:  journal,
			Metrics:  m,
			Trader:   trader,
		}, log)
		if err != nil {
			return err
		}
		goRun(func() { runner.Run(ctx) })
	}
	return nil
}
