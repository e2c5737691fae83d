package strategy

import (
	"fmt"
	"strings"
)

// FormatSignal renders a signal for chat delivery. live marks signals from
// the realtime feed; replays show the candle date instead.
func FormatSignal(sig Signal, underlying, timeframe string, strike float64, lots int, live bool) string {
	icon := "🟩"
	if sig.Mode == ModeSell {
		icon = "🟥"
	}
	option := "PUT"
	if sig.Mode == ModeSell {
		option = "CALL"
	}

	targets := make([]string, 0, len(sig.Targets))
	for _, t := range sig.Targets {
		targets = append(targets, fmt.Sprintf("%.2f", t))
	}
	targetText := "-"
	if len(targets) > 0 {
		targetText = strings.Join(targets, " | ")
	}

	liveTag := ""
	contextDate := sig.EntryTime.Format("02 Jan 2006")
	if live {
		liveTag = " (LIVE)"
		contextDate = "LIVE"
	}
	strikeText := "-"
	if strike > 0 {
		strikeText = fmt.Sprintf("%.0f", strike)
	}

	return fmt.Sprintf("%s <b>%s Entry Triggered%s</b>\n"+
		"🔹 %s (%s) | %s\n"+
		"🕒 Time: %s\n"+
		"💰 Entry: %.2f\n"+
		"🛑 Stop Loss: %.2f\n"+
		"🎯 Targets: %s\n"+
		"⚙️ Mode: %s\n"+
		"🔧 Suggestion: SELL %s | Strike: %s\n"+
		"📦 Lots: %d",
		icon, sig.Mode.Label(), liveTag,
		underlying, timeframe, contextDate,
		sig.EntryTime.Format("03:04 PM"),
		sig.EntryPrice, sig.StopLoss, targetText, sig.Mode.Label(),
		option, strikeText, lots)
}
