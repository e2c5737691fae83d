package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	MinPollIntervalSeconds = 2
	MaxPollIntervalSeconds = 120

	defaultMinEntryPrice    = 50
	defaultMaxOrderQuantity = 1800
	defaultTickSize         = 0.05
	defaultPollInterval     = 5
	defaultMaxAPIRetries    = 3
	defaultRetryBackoff     = 5
)

// Config is the fully loaded and validated process configuration.
type Config struct {
	ExitStrategy ExitStrategyConfig `yaml:"EXIT_STRATEGY"`
	System       SystemConfig       `yaml:"SYSTEM"`
	Telegram     TelegramConfig     `yaml:"TELEGRAM"`
	HTTP         HTTPConfig         `yaml:"HTTP"`
	Storage      StorageConfig      `yaml:"STORAGE"`
	Logging      LoggingConfig      `yaml:"LOGGING"`
	Sell         StrategyConfig     `yaml:"SELL"`
	Buy          StrategyConfig     `yaml:"BUY"`

	Secrets Secrets `yaml:"-"`
}

type ExitStrategyConfig struct {
	TargetPoints     float64 `yaml:"target_points"`
	EnableAutoExit   *bool   `yaml:"enable_auto_exit"`
	PaperMode        bool    `yaml:"paper_mode"`
	MinEntryPrice    float64 `yaml:"min_entry_price"`
	MaxOrderQuantity int     `yaml:"max_order_quantity"`
	TickSize         float64 `yaml:"tick_size"`
}

// AutoExitEnabled defaults to true when the key is absent.
func (c ExitStrategyConfig) AutoExitEnabled() bool {
	return c.EnableAutoExit == nil || *c.EnableAutoExit
}

type SystemConfig struct {
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	MaxAPIRetries       int     `yaml:"max_api_retries"`
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds"`
	LogLevel            string  `yaml:"log_level"`
	Broker              string  `yaml:"broker"`
}

type TelegramConfig struct {
	AdminUserIDs       []int64 `yaml:"admin_user_ids"`
	PollTimeoutSeconds int     `yaml:"poll_timeout_seconds"`
}

type HTTPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwt_secret"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type LoggingConfig struct {
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	Format      string `yaml:"format"`
	JournalFile string `yaml:"journal_file"`
}

// StrategyConfig drives one direction of the five-EMA signal source.
type StrategyConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Underlying             string  `yaml:"underlying"`
	InstrumentToken        int     `yaml:"instrument_token"`
	Timeframe              string  `yaml:"timeframe"`
	GapBetweenCandleAndEMA float64 `yaml:"gap_between_candle_and_ema"`
	EntryOffsetPoints      float64 `yaml:"entry_offset_points"`
	StoplossPoints         float64 `yaml:"stoploss_points"`
	StrikeStep             float64 `yaml:"strike_step"`
	// OptionPrefix (e.g. NIFTY24DEC) enables order entry on signals: the
	// traded symbol is prefix + strike + CE|PE.
	OptionPrefix string `yaml:"option_prefix"`
	Lots         int    `yaml:"lots"`
	LotSize      int    `yaml:"lot_size"`
	PaperMode    bool   `yaml:"paper_mode"`
}

// Secrets are read from the environment only, never from the config file.
type Secrets struct {
	KiteAPIKey       string
	KiteAPISecret    string
	KiteAccessToken  string
	TelegramBotToken string
	TelegramChatID   int64
	TelegramTOTP     string
}

// Load reads envPath (optional) and the config file at path, applies defaults
// and environment overrides, and validates the result.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML (or JSON) bytes plus the current environment.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ExitStrategy.MinEntryPrice == 0 {
		c.ExitStrategy.MinEntryPrice = defaultMinEntryPrice
	}
	if c.ExitStrategy.MaxOrderQuantity == 0 {
		c.ExitStrategy.MaxOrderQuantity = defaultMaxOrderQuantity
	}
	if c.ExitStrategy.TickSize == 0 {
		c.ExitStrategy.TickSize = defaultTickSize
	}
	if c.System.PollIntervalSeconds == 0 {
		c.System.PollIntervalSeconds = defaultPollInterval
	}
	if c.System.MaxAPIRetries == 0 {
		c.System.MaxAPIRetries = defaultMaxAPIRetries
	}
	if c.System.RetryBackoffSeconds == 0 {
		c.System.RetryBackoffSeconds = defaultRetryBackoff
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Broker == "" {
		c.System.Broker = "kite"
	}
	if c.Telegram.PollTimeoutSeconds == 0 {
		c.Telegram.PollTimeoutSeconds = 30
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/autoexit.db"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.JournalFile == "" {
		c.Logging.JournalFile = "exits.jsonl"
	}
	for _, s := range []*StrategyConfig{&c.Sell, &c.Buy} {
		if s.Timeframe == "" {
			s.Timeframe = "5minute"
		}
		if s.StrikeStep == 0 {
			s.StrikeStep = 50
		}
		if s.Lots == 0 {
			s.Lots = 1
		}
	}
}

func (c *Config) applyEnv() error {
	c.Secrets = Secrets{
		KiteAPIKey:       os.Getenv("KITE_API_KEY"),
		KiteAPISecret:    os.Getenv("KITE_API_SECRET"),
		KiteAccessToken:  os.Getenv("KITE_ACCESS_TOKEN"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramTOTP:     os.Getenv("TELEGRAM_TOTP_SECRET"),
	}
	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.Secrets.TelegramChatID = id
	}
	if v := os.Getenv("AUTOEXIT_JWT_SECRET"); v != "" {
		c.HTTP.JWTSecret = v
	}
	if v := os.Getenv("AUTOEXIT_LOG_LEVEL"); v != "" {
		c.System.LogLevel = v
	}
	if v := os.Getenv("AUTOEXIT_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("AUTOEXIT_PAPER_MODE"); v != "" {
		paper, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTOEXIT_PAPER_MODE: %w", err)
		}
		c.ExitStrategy.PaperMode = paper
	}
	return nil
}

// Validate checks invariants once so downstream code can trust the values.
// Out-of-range poll intervals are clamped rather than rejected.
func (c *Config) Validate() error {
	if c.ExitStrategy.TargetPoints <= 0 || math.IsNaN(c.ExitStrategy.TargetPoints) {
		return fmt.Errorf("EXIT_STRATEGY.target_points must be > 0, got %v", c.ExitStrategy.TargetPoints)
	}
	if c.ExitStrategy.MaxOrderQuantity <= 0 {
		return fmt.Errorf("EXIT_STRATEGY.max_order_quantity must be > 0, got %d", c.ExitStrategy.MaxOrderQuantity)
	}
	if c.ExitStrategy.TickSize <= 0 {
		return fmt.Errorf("EXIT_STRATEGY.tick_size must be > 0, got %v", c.ExitStrategy.TickSize)
	}
	if c.ExitStrategy.MinEntryPrice < 0 {
		return fmt.Errorf("EXIT_STRATEGY.min_entry_price must be >= 0, got %v", c.ExitStrategy.MinEntryPrice)
	}
	if c.System.MaxAPIRetries < 0 {
		return fmt.Errorf("SYSTEM.max_api_retries must be >= 0, got %d", c.System.MaxAPIRetries)
	}
	if c.System.RetryBackoffSeconds < 0 {
		return fmt.Errorf("SYSTEM.retry_backoff_seconds must be >= 0, got %v", c.System.RetryBackoffSeconds)
	}
	c.System.PollIntervalSeconds = ClampPollInterval(c.System.PollIntervalSeconds)

	switch strings.ToLower(c.System.Broker) {
	case "kite", "simulator":
		c.System.Broker = strings.ToLower(c.System.Broker)
	default:
		return fmt.Errorf("SYSTEM.broker must be kite or simulator, got %q", c.System.Broker)
	}

	for name, s := range map[string]StrategyConfig{"SELL": c.Sell, "BUY": c.Buy} {
		if !s.Enabled {
			continue
		}
		if s.InstrumentToken <= 0 {
			return fmt.Errorf("%s.instrument_token is required when the strategy is enabled", name)
		}
		if s.LotSize <= 0 {
			return fmt.Errorf("%s.lot_size must be > 0", name)
		}
	}
	return nil
}

// ClampPollInterval bounds seconds to the supported polling range.
func ClampPollInterval(seconds float64) float64 {
	return math.Min(math.Max(seconds, MinPollIntervalSeconds), MaxPollIntervalSeconds)
}

// IsAdmin reports whether a chat user may issue control commands. With no
// admin list configured, only the configured chat is trusted.
func (c *Config) IsAdmin(userID, chatID int64) bool {
	if len(c.Telegram.AdminUserIDs) > 0 {
		for _, id := range c.Telegram.AdminUserIDs {
			if id == userID {
				return true
			}
		}
		return false
	}
	return c.Secrets.TelegramChatID != 0 && chatID == c.Secrets.TelegramChatID
}

// MaskSecret keeps the first and last visible characters of a secret for logging.
func MaskSecret(secret string, visible int) string {
	if secret == "" {
		return ""
	}
	if visible <= 0 {
		visible = 4
	}
	if len(secret) <= visible*2 {
		return "..."
	}
	return secret[:visible] + "..." + secret[len(secret)-visible:]
}
