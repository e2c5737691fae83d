package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"autoexit/market"
)

const emaPeriod = 5

// Mode selects the direction the strategy trades.
type Mode string

const (
	ModeSell Mode = "SELL" // bearish: sell calls after an overextended up-candle
	ModeBuy  Mode = "BUY"  // bullish: sell puts after an overextended down-candle
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeSell:
		return ModeSell, nil
	case ModeBuy:
		return ModeBuy, nil
	}
	return "", fmt.Errorf("unknown strategy mode %q", raw)
}

func (m Mode) Label() string {
	if m == ModeSell {
		return "BEARISH"
	}
	return "BULLISH"
}

// Alert is a completed candle that closed away from the EMA by more than the gap.
type Alert struct {
	Time  time.Time
	Close float64
	High  float64
	Low   float64
}

// Signal is an entry triggered by a break of the alert candle.
type Signal struct {
	Name       string
	Mode       Mode
	EntryTime  time.Time
	EntryPrice float64
	StopLoss   float64
	Targets    []float64
}

// FiveEMA tracks at most one active alert and emits an entry once price
// breaks it. Not safe for concurrent use.
type FiveEMA struct {
	mode   Mode
	gap    float64
	offset float64
	alert  *Alert
}

func NewFiveEMA(mode Mode, gap, offset float64) *FiveEMA {
	return &FiveEMA{mode: mode, gap: gap, offset: offset}
}

func (s *FiveEMA) Mode() Mode { return s.mode }

// ActiveAlert returns a copy of the current alert, if any.
func (s *FiveEMA) ActiveAlert() (Alert, bool) {
	if s.alert == nil {
		return Alert{}, false
	}
	return *s.alert, true
}

// IdentifyAlert inspects the last completed candle (the one before the
// forming candle) and records an alert when none is active.
func (s *FiveEMA) IdentifyAlert(candles []market.Candle) (Alert, bool) {
	if len(candles) < emaPeriod {
		return Alert{}, false
	}
	if s.alert != nil {
		return *s.alert, true
	}

	ema := market.EMASeries(candles, emaPeriod)
	i := len(candles) - 2
	c := candles[i]

	switch s.mode {
	case ModeSell:
		if c.Close > ema[i] && c.Low > ema[i]+s.gap {
			s.alert = &Alert{Time: c.OpenTime, Close: c.Close, High: c.High, Low: c.Low}
		}
	case ModeBuy:
		if c.Close < ema[i] && c.High < ema[i]-s.gap {
			s.alert = &Alert{Time: c.OpenTime, Close: c.Close, High: c.High, Low: c.Low}
		}
	}
	if s.alert == nil {
		return Alert{}, false
	}
	return *s.alert, true
}

// CheckEntry tests the latest candle against the active alert. A triggered
// entry clears the alert.
func (s *FiveEMA) CheckEntry(candles []market.Candle) (Signal, bool) {
	if s.alert == nil || len(candles) < 2 {
		return Signal{}, false
	}
	latest := candles[len(candles)-1]

	var sig Signal
	switch {
	case s.mode == ModeSell && latest.Low < s.alert.Low:
		entry := latest.Low + s.offset
		sl := s.alert.High
		risk := sl - entry
		sig = Signal{Name: "SELL_CALL", StopLoss: round2(sl), EntryPrice: round2(entry)}
		for r := 1; r <= 3; r++ {
			sig.Targets = append(sig.Targets, round2(entry-risk*float64(r)))
		}
	case s.mode == ModeBuy && latest.High > s.alert.High:
		entry := latest.High - s.offset
		sl := s.alert.Low
		risk := entry - sl
		sig = Signal{Name: "SELL_PUT", StopLoss: round2(sl), EntryPrice: round2(entry)}
		for r := 1; r <= 3; r++ {
			sig.Targets = append(sig.Targets, round2(entry+risk*float64(r)))
		}
	default:
		return Signal{}, false
	}

	sig.Mode = s.mode
	sig.EntryTime = latest.OpenTime
	s.Reset()
	return sig, true
}

// Evaluate runs alert detection then the entry check.
func (s *FiveEMA) Evaluate(candles []market.Candle) (Signal, bool) {
	s.IdentifyAlert(candles)
	return s.CheckEntry(candles)
}

func (s *FiveEMA) Reset() {
	s.alert = nil
}

// SuggestStrike rounds the entry to the strike grid: the next strike above
// for bearish signals (unless that is more than a step away), the strike
// below for bullish ones.
func SuggestStrike(entry, step float64, mode Mode) float64 {
	if step <= 0 {
		return 0
	}
	base := math.Floor(entry/step) * step
	if mode == ModeSell {
		strike := base + step
		if strike-entry > step {
			return base
		}
		return strike
	}
	return base
}

// OptionType is the option sold on a signal: calls when bearish, puts when bullish.
func (m Mode) OptionType() string {
	if m == ModeSell {
		return "CE"
	}
	return "PE"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
