package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autoexit/market"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"
)

const (
	varietyRegular = "regular"
	validityDay    = "DAY"

	// orderAttempts stays low so a lost response does not stack duplicates.
	orderAttempts = 2
)

// KiteOptions configures a KiteGateway.
type KiteOptions struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	BackoffMin  time.Duration
	Timeout     time.Duration
	// BaseURI overrides the API root; used by tests.
	BaseURI string
}

// KiteGateway talks to Zerodha Kite Connect with rate limiting and retries.
type KiteGateway struct {
	client       *kiteconnect.Client
	log          logrus.FieldLogger
	readLimiter  *rate.Limiter
	orderLimiter *rate.Limiter
	readPolicy   RetryPolicy
	orderPolicy  RetryPolicy
}

// NewKiteGateway validates credentials and builds the gateway.
func NewKiteGateway(opts KiteOptions, log logrus.FieldLogger) (*KiteGateway, error) {
	if opts.APIKey == "" || opts.AccessToken == "" {
		return nil, errors.New("kite api key and access token are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client := kiteconnect.New(opts.APIKey)
	client.SetAccessToken(opts.AccessToken)
	client.SetHTTPClient(&http.Client{Timeout: opts.Timeout})
	if opts.BaseURI != "" {
		client.SetBaseURI(opts.BaseURI)
	}

	return &KiteGateway{
		client:       client,
		log:          log,
		readLimiter:  rate.NewLimiter(rate.Limit(10), 1),
		orderLimiter: rate.NewLimiter(rate.Limit(5), 1),
		readPolicy:   RetryPolicy{Attempts: opts.MaxRetries, Min: opts.BackoffMin},
		orderPolicy:  RetryPolicy{Attempts: orderAttempts, Min: opts.BackoffMin},
	}, nil
}

func (g *KiteGateway) read(ctx context.Context, op string, fn func() error) error {
	return withRetry(ctx, g.log, op, g.readPolicy, func() error {
		if err := g.readLimiter.Wait(ctx); err != nil {
			return &GatewayError{Op: op, Permanent: true, Err: err}
		}
		if err := fn(); err != nil {
			return classifyKiteError(op, err)
		}
		return nil
	})
}

// ListPositions returns net positions.
func (g *KiteGateway) ListPositions(ctx context.Context) ([]Position, error) {
	var raw kiteconnect.Positions
	err := g.read(ctx, "get_positions", func() (err error) {
		raw, err = g.client.GetPositions()
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw.Net))
	for _, p := range raw.Net {
		positions = append(positions, Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     p.Exchange,
			Product:      p.Product,
			NetQuantity:  p.Quantity,
			AveragePrice: decimal.NewFromFloat(p.AveragePrice),
		})
	}
	return positions, nil
}

// ListOrders returns the day's order book.
func (g *KiteGateway) ListOrders(ctx context.Context) ([]Order, error) {
	var raw kiteconnect.Orders
	err := g.read(ctx, "get_orders", func() (err error) {
		raw, err = g.client.GetOrders()
		return err
	})
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, Order{
			ID:              o.OrderID,
			Symbol:          o.TradingSymbol,
			Exchange:        o.Exchange,
			Product:         o.Product,
			Side:            strings.ToUpper(o.TransactionType),
			Status:          o.Status,
			Quantity:        int(o.Quantity),
			FilledQuantity:  int(o.FilledQuantity),
			PendingQuantity: int(o.PendingQuantity),
			PendingReported: true,
		})
	}
	return orders, nil
}

// PlaceOrder submits a regular DAY order.
func (g *KiteGateway) PlaceOrder(ctx context.Context, spec OrderSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if spec.OrderType == "" {
		spec.OrderType = OrderTypeLimit
	}

	params := kiteconnect.OrderParams{
		Exchange:        spec.Exchange,
		Tradingsymbol:   spec.Symbol,
		Validity:        validityDay,
		Product:         spec.Product,
		OrderType:       spec.OrderType,
		TransactionType: spec.Side,
		Quantity:        spec.Quantity,
		Tag:             spec.Tag,
	}
	if spec.OrderType == OrderTypeLimit {
		params.Price = spec.Price.InexactFloat64()
	}

	var orderID string
	err := withRetry(ctx, g.log, "place_order", g.orderPolicy, func() error {
		if err := g.orderLimiter.Wait(ctx); err != nil {
			return &GatewayError{Op: "place_order", Permanent: true, Err: err}
		}
		resp, err := g.client.PlaceOrder(varietyRegular, params)
		if err != nil {
			return classifyKiteError("place_order", err)
		}
		orderID = resp.OrderID
		return nil
	})
	if err != nil {
		return "", err
	}
	return orderID, nil
}

// LastPrice returns the LTP of an "EXCHANGE:SYMBOL" instrument.
func (g *KiteGateway) LastPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var quote kiteconnect.QuoteLTP
	err := g.read(ctx, "get_ltp", func() (err error) {
		quote, err = g.client.GetLTP(instrument)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	ltp, ok := quote[instrument]
	if !ok {
		return decimal.Zero, &GatewayError{Op: "get_ltp", Permanent: true, Err: fmt.Errorf("no quote for %s", instrument)}
	}
	return decimal.NewFromFloat(ltp.LastPrice), nil
}

// Candles returns historical bars for an instrument token.
func (g *KiteGateway) Candles(ctx context.Context, token int, interval string, from, to time.Time) ([]market.Candle, error) {
	var raw []kiteconnect.HistoricalData
	err := g.read(ctx, "get_historical", func() (err error) {
		raw, err = g.client.GetHistoricalData(token, interval, from, to, false, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, h := range raw {
		candles = append(candles, market.Candle{
			OpenTime: h.Date.Time,
			Open:     h.Open,
			High:     h.High,
			Low:      h.Low,
			Close:    h.Close,
			Volume:   float64(h.Volume),
		})
	}
	return candles, nil
}

// CheckConnection performs a cheap authenticated call.
func (g *KiteGateway) CheckConnection(ctx context.Context) error {
	return g.read(ctx, "get_margins", func() error {
		_, err := g.client.GetUserMargins()
		return err
	})
}

// permanentKiteErrors will fail again with the same input or session.
var permanentKiteErrors = map[string]bool{
	"InputException":  true,
	"OrderException":  true,
	"PermissionError": true,
	"TokenException":  true,
	"UserException":   true,
	"TwoFAException":  true,
}

func classifyKiteError(op string, err error) error {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}

	permanent := false
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		permanent = permanentKiteErrors[kerr.ErrorType]
		if kerr.Code == http.StatusTooManyRequests || kerr.Code >= http.StatusInternalServerError {
			permanent = false
		}
	}
	return &GatewayError{Op: op, Permanent: permanent, Err: err}
}
