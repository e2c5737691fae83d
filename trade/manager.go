package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoexit/broker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ValidationError reports bad trade parameters.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "trade validation failed: " + e.Reason }

// Manager enters and exits trades, simulated in paper mode.
type Manager struct {
	gateway  broker.Gateway
	ledger   PaperLedger
	log      logrus.FieldLogger
	paper    bool
	exchange string
	product  string
}

// NewManager requires a gateway; the ledger is required in paper mode.
func NewManager(gateway broker.Gateway, ledger PaperLedger, paper bool, log logrus.FieldLogger) (*Manager, error) {
	if gateway == nil {
		return nil, errors.New("trade manager requires a broker gateway")
	}
	if paper && ledger == nil {
		return nil, errors.New("paper trading requires a ledger")
	}
	log.Infof("📒 [Trade] Manager initialised (paper=%v)", paper)
	return &Manager{gateway: gateway, ledger: ledger, log: log, paper: paper, exchange: "NFO", product: "NRML"}, nil
}

func validate(symbol string, qty int, side string) error {
	if strings.TrimSpace(symbol) == "" {
		return &ValidationError{Reason: "symbol cannot be empty"}
	}
	if qty <= 0 {
		return &ValidationError{Reason: "quantity must be a positive integer"}
	}
	if side != broker.SideBuy && side != broker.SideSell {
		return &ValidationError{Reason: fmt.Sprintf("invalid side %q, must be BUY or SELL", side)}
	}
	return nil
}

func (m *Manager) instrument(symbol string) string {
	return m.exchange + ":" + symbol
}

// EnterTrade opens a position and returns the order ID (SIM_ prefixed in paper mode).
func (m *Manager) EnterTrade(ctx context.Context, symbol string, qty int, side string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	side = strings.ToUpper(strings.TrimSpace(side))
	if err := validate(symbol, qty, side); err != nil {
		m.log.WithError(err).Errorf("❌ [Trade] Rejected entry symbol=%s qty=%d side=%s", symbol, qty, side)
		return "", err
	}

	price, err := m.gateway.LastPrice(ctx, m.instrument(symbol))
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("could not fetch price for %s: %v", symbol, err)}
	}

	if m.paper {
		orderID := "SIM_" + uuid.NewString()
		if _, err := m.ledger.RecordPaperTrade(ctx, PaperTrade{
			Timestamp:  time.Now(),
			Symbol:     symbol,
			Side:       side,
			EntryPrice: price,
			Quantity:   qty,
		}); err != nil {
			return "", fmt.Errorf("record paper trade: %w", err)
		}
		m.log.Infof("📝 [Trade][PAPER] Opened %s %s @ %s | qty=%d order_id=%s", side, symbol, price.StringFixed(2), qty, orderID)
		return orderID, nil
	}

	orderID, err := m.gateway.PlaceOrder(ctx, broker.OrderSpec{
		Exchange:  m.exchange,
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Product:   m.product,
		OrderType: broker.OrderTypeMarket,
		Tag:       "entry",
	})
	if err != nil {
		return "", fmt.Errorf("place entry order: %w", err)
	}
	m.log.Infof("✅ [Trade][LIVE] Opened %s %s @ ~%s | qty=%d order_id=%s", side, symbol, price.StringFixed(2), qty, orderID)
	return orderID, nil
}

// ExitTrade closes the latest open paper trade on symbol at the last price
// and returns its PnL. Live exits are left to the reconciliation loop.
func (m *Manager) ExitTrade(ctx context.Context, symbol, rrStage string) (decimal.Decimal, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return decimal.Zero, &ValidationError{Reason: "symbol cannot be empty"}
	}
	if !m.paper {
		return decimal.Zero, errors.New("live exits are handled by the auto-exit monitor")
	}

	open, err := m.ledger.LatestOpenPaperTrade(ctx, symbol)
	if err != nil {
		if errors.Is(err, ErrNoOpenTrade) {
			return decimal.Zero, &ValidationError{Reason: "no open trade found for " + symbol}
		}
		return decimal.Zero, err
	}

	price, err := m.gateway.LastPrice(ctx, m.instrument(symbol))
	if err != nil {
		return decimal.Zero, &ValidationError{Reason: fmt.Sprintf("could not fetch price for %s: %v", symbol, err)}
	}

	pnl := PnL(open.Side, open.EntryPrice, price, open.Quantity)
	if err := m.ledger.ClosePaperTrade(ctx, open.ID, price, pnl, rrStage); err != nil {
		return decimal.Zero, fmt.Errorf("close paper trade: %w", err)
	}
	m.log.Infof("📝 [Trade][PAPER] Closed %s @ %s | qty=%d side=%s pnl=%s", symbol, price.StringFixed(2), open.Quantity, open.Side, pnl.StringFixed(2))
	return pnl, nil
}

// DailySummary aggregates paper trades opened on day (local time).
func (m *Manager) DailySummary(ctx context.Context, day time.Time) (Summary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	summary := Summary{Day: start, GrossPnL: decimal.Zero}
	if m.ledger == nil {
		return summary, nil
	}

	trades, err := m.ledger.PaperTradesBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return summary, err
	}
	for _, t := range trades {
		summary.TotalTrades++
		if !t.PnL.Valid {
			continue
		}
		switch {
		case t.PnL.Decimal.IsPositive():
			summary.Wins++
		case t.PnL.Decimal.IsNegative():
			summary.Losses++
		}
		summary.GrossPnL = summary.GrossPnL.Add(t.PnL.Decimal)
	}
	return summary, nil
}

// Format renders the summary for chat delivery.
func (s Summary) Format() string {
	if s.TotalTrades == 0 {
		return fmt.Sprintf("📅 <b>Paper trades %s</b>\nNo trades today.", s.Day.Format("2006-01-02"))
	}
	return fmt.Sprintf("📅 <b>Paper trades %s</b>\nTotal Trades: %d\nWins: %d | Losses: %d\nGross P/L: ₹%s",
		s.Day.Format("2006-01-02"), s.TotalTrades, s.Wins, s.Losses, s.GrossPnL.StringFixed(2))
}
