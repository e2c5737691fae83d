package monitor

import (
	"time"

	"autoexit/config"

	"github.com/shopspring/decimal"
)

// Config holds the monitor parameters fixed at construction.
type Config struct {
	MinEntryPrice    decimal.Decimal
	MaxOrderQuantity int
	TickSize         decimal.Decimal
	RetryBackoff     time.Duration
	// MaxPermanentFailures blocks a key after this many consecutive
	// permanent placement failures.
	MaxPermanentFailures int

	Initial RuntimeState
}

// ConfigFrom maps the loaded process configuration.
func ConfigFrom(cfg *config.Config) Config {
	failures := cfg.System.MaxAPIRetries
	if failures <= 0 {
		failures = 1
	}
	return Config{
		MinEntryPrice:        decimal.NewFromFloat(cfg.ExitStrategy.MinEntryPrice),
		MaxOrderQuantity:     cfg.ExitStrategy.MaxOrderQuantity,
		TickSize:             decimal.NewFromFloat(cfg.ExitStrategy.TickSize),
		RetryBackoff:         secondsToDuration(cfg.System.RetryBackoffSeconds),
		MaxPermanentFailures: failures,
		Initial: RuntimeState{
			TargetPoints:        decimal.NewFromFloat(cfg.ExitStrategy.TargetPoints),
			PaperMode:           cfg.ExitStrategy.PaperMode,
			PollIntervalSeconds: cfg.System.PollIntervalSeconds,
			AutoExitEnabled:     cfg.ExitStrategy.AutoExitEnabled(),
		},
	}
}

func (c Config) withDefaults() Config {
	if c.MaxOrderQuantity <= 0 {
		c.MaxOrderQuantity = 1800
	}
	if !c.TickSize.IsPositive() {
		c.TickSize = decimal.RequireFromString("0.05")
	}
	if c.MaxPermanentFailures <= 0 {
		c.MaxPermanentFailures = 3
	}
	if c.Initial.PollIntervalSeconds == 0 {
		c.Initial.PollIntervalSeconds = 5
	}
	c.Initial.PollIntervalSeconds = config.ClampPollInterval(c.Initial.PollIntervalSeconds)
	return c
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
