package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	StatusOpen           = "OPEN"
	StatusTriggerPending = "TRIGGER_PENDING"
)

// Gateway is the minimal broker surface the reconciliation loop depends on.
type Gateway interface {
	ListPositions(ctx context.Context) ([]Position, error)
	ListOrders(ctx context.Context) ([]Order, error)
	// PlaceOrder returns the broker order ID.
	PlaceOrder(ctx context.Context, spec OrderSpec) (string, error)
	LastPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// Position is one net position as reported by the broker.
type Position struct {
	Symbol       string
	Exchange     string
	Product      string
	NetQuantity  int
	AveragePrice decimal.Decimal
}

// Key identifies a position by symbol and product type.
func (p Position) Key() string {
	return PositionKey(p.Symbol, p.Product)
}

// PositionKey builds the symbol_product identity shared by positions and orders.
func PositionKey(symbol, product string) string {
	return strings.TrimSpace(symbol) + "_" + strings.ToUpper(strings.TrimSpace(product))
}

// Order is a broker order as reported by the order book.
type Order struct {
	ID              string
	Symbol          string
	Exchange        string
	Product         string
	Side            string
	Status          string
	Quantity        int
	FilledQuantity  int
	PendingQuantity int
	// PendingReported is false when the broker omitted the pending field.
	PendingReported bool
}

func (o Order) Key() string {
	return PositionKey(o.Symbol, o.Product)
}

// NormalizeStatus maps broker status strings ("TRIGGER PENDING") to the
// underscore form used by the constants.
func NormalizeStatus(status string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(status)), " ", "_")
}

// Active reports whether the order can still fill.
func (o Order) Active() bool {
	switch NormalizeStatus(o.Status) {
	case StatusOpen, StatusTriggerPending:
		return true
	}
	return false
}

// Outstanding is the unfilled quantity, preferring the broker's pending field.
func (o Order) Outstanding() int {
	qty := o.Quantity - o.FilledQuantity
	if o.PendingReported {
		qty = o.PendingQuantity
	}
	if qty < 0 {
		return 0
	}
	return qty
}

// OrderSpec describes an order to place.
type OrderSpec struct {
	Exchange  string
	Symbol    string
	Side      string
	Quantity  int
	Product   string
	OrderType string
	Price     decimal.Decimal
	Tag       string
}

func (s OrderSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return &GatewayError{Op: "place_order", Permanent: true, Err: errors.New("symbol is required")}
	}
	if s.Quantity <= 0 {
		return &GatewayError{Op: "place_order", Permanent: true, Err: fmt.Errorf("quantity must be > 0, got %d", s.Quantity)}
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return &GatewayError{Op: "place_order", Permanent: true, Err: fmt.Errorf("invalid side %q", s.Side)}
	}
	if s.OrderType == OrderTypeLimit && !s.Price.IsPositive() {
		return &GatewayError{Op: "place_order", Permanent: true, Err: fmt.Errorf("limit price must be > 0, got %s", s.Price)}
	}
	return nil
}

// GatewayError wraps a broker failure. Permanent failures will not succeed on retry.
type GatewayError struct {
	Op        string
	Permanent bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a GatewayError marked permanent.
func IsPermanent(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Permanent
}
