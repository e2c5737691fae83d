package strategy

import (
	"context"
	"fmt"
	"time"

	"autoexit/config"
	"autoexit/logger"
	"autoexit/market"
	"autoexit/notify"

	"github.com/sirupsen/logrus"
)

// CandleSource supplies historical bars.
type CandleSource interface {
	Candles(ctx context.Context, token int, interval string, from, to time.Time) ([]market.Candle, error)
}

// Entrant places entries for signals.
type Entrant interface {
	EnterTrade(ctx context.Context, symbol string, qty int, side string) (string, error)
}

// SignalRecorder journals emitted signals.
type SignalRecorder interface {
	LogSignal(record *logger.SignalRecord) error
}

// SignalCounter counts emitted signals.
type SignalCounter interface {
	Signal(direction string)
}

// RunnerDeps are the collaborators of a Runner. Only Source is required.
type RunnerDeps struct {
	Source   CandleSource
	Notifier notify.Notifier
	Journal  SignalRecorder
	Metrics  SignalCounter
	Trader   Entrant
	Now      func() time.Time
}

// Runner polls candles for one strategy section and acts on its signals.
type Runner struct {
	mode     Mode
	cfg      config.StrategyConfig
	strat    *FiveEMA
	deps     RunnerDeps
	interval time.Duration
	log      logrus.FieldLogger
}

const lookbackBars = 60

func NewRunner(mode Mode, cfg config.StrategyConfig, deps RunnerDeps, log logrus.FieldLogger) (*Runner, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("%s runner requires a candle source", mode)
	}
	interval, ok := market.IntervalDuration(cfg.Timeframe)
	if !ok {
		return nil, fmt.Errorf("%s runner: unsupported timeframe %q", mode, cfg.Timeframe)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log.Infof("📈 [Strategy] FiveEMA %s initialised | underlying=%s timeframe=%s gap=%.2f offset=%.2f paper=%v",
		mode, cfg.Underlying, cfg.Timeframe, cfg.GapBetweenCandleAndEMA, cfg.EntryOffsetPoints, cfg.PaperMode)
	return &Runner{
		mode:     mode,
		cfg:      cfg,
		strat:    NewFiveEMA(mode, cfg.GapBetweenCandleAndEMA, cfg.EntryOffsetPoints),
		deps:     deps,
		interval: interval,
		log:      log,
	}, nil
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	every := max(r.interval/5, 10*time.Second)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	r.log.Infof("🚀 [Strategy] %s runner started (poll every %s)", r.mode, every)
	for {
		if _, _, err := r.Poll(ctx); err != nil {
			r.log.WithError(err).Warnf("⚠️  [Strategy] %s poll failed", r.mode)
		}
		select {
		case <-ctx.Done():
			r.log.Infof("⏹  [Strategy] %s runner stopped", r.mode)
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches recent candles, evaluates the strategy and handles a signal.
func (r *Runner) Poll(ctx context.Context) (Signal, bool, error) {
	now := r.deps.Now()
	from := now.Add(-lookbackBars * r.interval)
	if r.interval < 24*time.Hour {
		// sessions are ~6h; reach back over weekends and holidays
		from = now.AddDate(0, 0, -5)
	}

	candles, err := r.deps.Source.Candles(ctx, r.cfg.InstrumentToken, r.cfg.Timeframe, from, now)
	if err != nil {
		return Signal{}, false, fmt.Errorf("fetch candles: %w", err)
	}
	candles = market.TakeLast(candles, lookbackBars)
	if market.IsStale(candles) {
		r.log.Warnf("⚠️  [Strategy] %s stale candles for %s, skipping", r.mode, r.cfg.Underlying)
		return Signal{}, false, nil
	}

	_, hadAlert := r.strat.ActiveAlert()
	sig, ok := r.strat.Evaluate(candles)
	if alert, active := r.strat.ActiveAlert(); active && !hadAlert {
		r.log.Infof("📢 [Strategy] Alert candle (%s) | %s | close=%.2f high=%.2f low=%.2f",
			r.mode.Label(), alert.Time.Format("03:04 PM"), alert.Close, alert.High, alert.Low)
	}
	if !ok {
		return Signal{}, false, nil
	}

	r.handleSignal(ctx, sig)
	return sig, true, nil
}

func (r *Runner) handleSignal(ctx context.Context, sig Signal) {
	strike := SuggestStrike(sig.EntryPrice, r.cfg.StrikeStep, r.mode)
	qty := r.cfg.Lots * r.cfg.LotSize

	r.log.Infof("🎯 [Strategy] Entry triggered (%s) | entry=%.2f sl=%.2f targets=%v strike=%.0f lots=%d",
		r.mode.Label(), sig.EntryPrice, sig.StopLoss, sig.Targets, strike, r.cfg.Lots)
	r.deps.Notifier.Notify(FormatSignal(sig, r.cfg.Underlying, r.cfg.Timeframe, strike, r.cfg.Lots, true))
	if r.deps.Metrics != nil {
		r.deps.Metrics.Signal(string(r.mode))
	}

	record := &logger.SignalRecord{
		Timestamp:  sig.EntryTime,
		Strategy:   "five_ema",
		Direction:  string(r.mode),
		Underlying: r.cfg.Underlying,
		Entry:      sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		Targets:    sig.Targets,
		Strike:     strike,
		Quantity:   qty,
	}

	if r.deps.Trader != nil && r.cfg.OptionPrefix != "" && strike > 0 && qty > 0 {
		symbol := fmt.Sprintf("%s%.0f%s", r.cfg.OptionPrefix, strike, r.mode.OptionType())
		orderID, err := r.deps.Trader.EnterTrade(ctx, symbol, qty, "SELL")
		if err != nil {
			r.log.WithError(err).Errorf("❌ [Strategy] Entry order failed for %s", symbol)
			r.deps.Notifier.Notify(fmt.Sprintf("❌ Entry failed for %s: %v", symbol, err))
		} else {
			record.OrderID = orderID
			r.deps.Notifier.Notify(fmt.Sprintf("📥 Entry placed: SELL %s x%d (order %s)", symbol, qty, orderID))
		}
	}

	if r.deps.Journal != nil {
		if err := r.deps.Journal.LogSignal(record); err != nil {
			r.log.WithError(err).Warn("⚠️  [Strategy] Failed to journal signal")
		}
	}
}
