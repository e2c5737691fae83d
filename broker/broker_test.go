package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"autoexit/logger"
	"autoexit/market"
)

func TestOrderOutstandingPrefersPendingField(t *testing.T) {
	o := Order{Quantity: 100, FilledQuantity: 40, PendingQuantity: 10, PendingReported: true}
	assert.Equal(t, 10, o.Outstanding())

	o.PendingReported = false
	assert.Equal(t, 60, o.Outstanding())

	o.FilledQuantity = 150
	assert.Equal(t, 0, o.Outstanding())
}

func TestOrderActive(t *testing.T) {
	assert.True(t, Order{Status: "OPEN"}.Active())
	assert.True(t, Order{Status: "TRIGGER PENDING"}.Active())
	assert.True(t, Order{Status: "trigger_pending"}.Active())
	assert.False(t, Order{Status: "COMPLETE"}.Active())
	assert.False(t, Order{Status: "CANCELLED"}.Active())
	assert.False(t, Order{Status: "REJECTED"}.Active())
}

func TestPositionKey(t *testing.T) {
	assert.Equal(t, "INFY_CNC", Position{Symbol: "INFY", Product: "cnc"}.Key())
	assert.Equal(t, "INFY_CNC", Order{Symbol: "INFY", Product: "CNC"}.Key())
}

func TestOrderSpecValidate(t *testing.T) {
	ok := OrderSpec{Symbol: "INFY", Side: SideSell, Quantity: 1, OrderType: OrderTypeLimit, Price: decimal.NewFromInt(1)}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Quantity = 0
	assert.True(t, IsPermanent(bad.Validate()))

	bad = ok
	bad.Price = decimal.Zero
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Side = "HOLD"
	assert.Error(t, bad.Validate())
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), logger.Discard(), "op", RetryPolicy{Attempts: 5, Min: time.Millisecond}, func() error {
		calls++
		return &GatewayError{Op: "op", Permanent: true, Err: errors.New("bad input")}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), logger.Discard(), "op", RetryPolicy{Attempts: 3, Min: time.Millisecond, Max: 2 * time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return &GatewayError{Op: "op", Err: errors.New("timeout")}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, logger.Discard(), "op", RetryPolicy{Attempts: 3, Min: time.Hour}, func() error {
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyKiteError(t *testing.T) {
	input := kiteconnect.Error{Code: 400, ErrorType: "InputException", Message: "invalid price"}
	assert.True(t, IsPermanent(classifyKiteError("place_order", input)))

	network := kiteconnect.Error{Code: 503, ErrorType: "NetworkException", Message: "gateway timeout"}
	assert.False(t, IsPermanent(classifyKiteError("place_order", network)))

	assert.False(t, IsPermanent(classifyKiteError("get_orders", errors.New("eof"))))
}

func TestNewKiteGatewayRequiresCredentials(t *testing.T) {
	_, err := NewKiteGateway(KiteOptions{APIKey: "key"}, logger.Discard())
	assert.Error(t, err)
}

func TestSimulatorPlacementRestsInBook(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	spec := OrderSpec{Exchange: "NSE", Symbol: "INFY", Product: "CNC", Side: SideSell, Quantity: 5, OrderType: OrderTypeLimit, Price: decimal.NewFromInt(10)}

	id, err := sim.PlaceOrder(ctx, spec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	orders, err := sim.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Active())
	assert.Equal(t, 5, orders[0].Outstanding())
	assert.Len(t, sim.Placed(), 1)
}

func TestSimulatorFailureInjection(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	spec := OrderSpec{Symbol: "INFY", Product: "CNC", Side: SideSell, Quantity: 5, OrderType: OrderTypeLimit, Price: decimal.NewFromInt(10)}

	sim.FailNext(1, true)
	_, err := sim.PlaceOrder(ctx, spec)
	assert.True(t, IsPermanent(err))

	sim.FailAfter(1)
	_, err = sim.PlaceOrder(ctx, spec)
	assert.NoError(t, err)
	_, err = sim.PlaceOrder(ctx, spec)
	assert.Error(t, err)
	assert.False(t, IsPermanent(err))

	sim.FailOrders(errors.New("down"))
	_, err = sim.ListOrders(ctx)
	assert.Error(t, err)
}

func TestSimulatorCandlesWindow(t *testing.T) {
	sim := NewSimulator()
	base := time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC)
	var bars []market.Candle
	for i := 0; i < 6; i++ {
		bars = append(bars, market.Candle{OpenTime: base.Add(time.Duration(i) * 5 * time.Minute), Close: float64(100 + i)})
	}
	sim.SetCandles(bars)

	got, err := sim.Candles(context.Background(), 256265, "5minute", base.Add(5*time.Minute), base.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 101.0, got[0].Close)
	assert.Equal(t, 103.0, got[2].Close)
}
