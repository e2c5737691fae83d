package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autoexit/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulator is an in-memory Gateway for dry runs and tests. Placed orders
// rest in its order book as OPEN until filled or cancelled.
type Simulator struct {
	mu        sync.Mutex
	positions []Position
	orders    []Order
	placed    []OrderSpec
	prices    map[string]decimal.Decimal
	candles   []market.Candle

	failPlacements  int
	failPermanent   bool
	failReason      string
	failAfter       int
	positionsErr    error
	ordersErr       error
	placementsCount int
}

func NewSimulator() *Simulator {
	return &Simulator{prices: make(map[string]decimal.Decimal), failAfter: -1}
}

// SetPositions replaces the net positions.
func (s *Simulator) SetPositions(positions ...Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append([]Position(nil), positions...)
}

// AddOrder puts an order directly into the book.
func (s *Simulator) AddOrder(order Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	s.orders = append(s.orders, order)
}

// ClearOrders empties the order book.
func (s *Simulator) ClearOrders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = nil
}

// SetLastPrice sets the LTP returned for instrument.
func (s *Simulator) SetLastPrice(instrument string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[instrument] = price
}

// SetCandles sets the bars returned by Candles.
func (s *Simulator) SetCandles(candles []market.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append([]market.Candle(nil), candles...)
}

// FailNext makes the next n placements fail.
func (s *Simulator) FailNext(n int, permanent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPlacements = n
	s.failPermanent = permanent
}

// RejectWith sets the broker message returned by FailNext rejections.
func (s *Simulator) RejectWith(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReason = reason
}

// FailAfter lets k more placements succeed and fails every one after that
// until reset with a negative k.
func (s *Simulator) FailAfter(k int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = k
	s.placementsCount = 0
}

// FailPositions makes ListPositions return err (nil clears).
func (s *Simulator) FailPositions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionsErr = err
}

// FailOrders makes ListOrders return err (nil clears).
func (s *Simulator) FailOrders(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordersErr = err
}

// Placed returns every successfully placed order spec.
func (s *Simulator) Placed() []OrderSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OrderSpec(nil), s.placed...)
}

func (s *Simulator) ListPositions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positionsErr != nil {
		return nil, &GatewayError{Op: "get_positions", Err: s.positionsErr}
	}
	return append([]Position(nil), s.positions...), nil
}

func (s *Simulator) ListOrders(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ordersErr != nil {
		return nil, &GatewayError{Op: "get_orders", Err: s.ordersErr}
	}
	return append([]Order(nil), s.orders...), nil
}

func (s *Simulator) PlaceOrder(ctx context.Context, spec OrderSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &GatewayError{Op: "place_order", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPlacements > 0 {
		s.failPlacements--
		reason := s.failReason
		if reason == "" {
			reason = "simulated rejection"
		}
		return "", &GatewayError{Op: "place_order", Permanent: s.failPermanent, Err: errors.New(reason)}
	}
	if s.failAfter >= 0 {
		if s.placementsCount >= s.failAfter {
			return "", &GatewayError{Op: "place_order", Err: errors.New("simulated outage")}
		}
		s.placementsCount++
	}

	id := uuid.NewString()
	s.placed = append(s.placed, spec)
	s.orders = append(s.orders, Order{
		ID:              id,
		Symbol:          spec.Symbol,
		Exchange:        spec.Exchange,
		Product:         spec.Product,
		Side:            spec.Side,
		Status:          StatusOpen,
		Quantity:        spec.Quantity,
		PendingQuantity: spec.Quantity,
		PendingReported: true,
	})
	return id, nil
}

func (s *Simulator) LastPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[instrument]
	if !ok {
		return decimal.Zero, &GatewayError{Op: "get_ltp", Permanent: true, Err: fmt.Errorf("no quote for %s", instrument)}
	}
	return price, nil
}

func (s *Simulator) Candles(ctx context.Context, token int, interval string, from, to time.Time) ([]market.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []market.Candle
	for _, c := range s.candles {
		if (c.OpenTime.Equal(from) || c.OpenTime.After(from)) && !c.OpenTime.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}
