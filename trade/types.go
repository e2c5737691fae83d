package trade

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// ErrNoOpenTrade is returned when an exit finds nothing to close.
var ErrNoOpenTrade = errors.New("no open paper trade")

// PaperTrade is one simulated entry and its exit, once closed.
type PaperTrade struct {
	ID         int64
	Timestamp  time.Time
	Symbol     string
	Side       string
	EntryPrice decimal.Decimal
	ExitPrice  decimal.NullDecimal
	Quantity   int
	PnL        decimal.NullDecimal
	Status     string
	RRStage    string
}

// Summary aggregates the paper trades of one day.
type Summary struct {
	Day         time.Time
	TotalTrades int
	Wins        int
	Losses      int
	GrossPnL    decimal.Decimal
}

// PaperLedger stores paper trades.
type PaperLedger interface {
	RecordPaperTrade(ctx context.Context, t PaperTrade) (int64, error)
	// LatestOpenPaperTrade returns ErrNoOpenTrade when none is open.
	LatestOpenPaperTrade(ctx context.Context, symbol string) (PaperTrade, error)
	ClosePaperTrade(ctx context.Context, id int64, exitPrice, pnl decimal.Decimal, rrStage string) error
	PaperTradesBetween(ctx context.Context, from, to time.Time) ([]PaperTrade, error)
}

// PnL returns profit for a closed trade: SELL gains when price falls.
func PnL(side string, entry, exit decimal.Decimal, qty int) decimal.Decimal {
	diff := exit.Sub(entry)
	if side == "SELL" {
		diff = entry.Sub(exit)
	}
	return diff.Mul(decimal.NewFromInt(int64(qty)))
}
