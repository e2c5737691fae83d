package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autoexit/monitor"
	"autoexit/trade"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "autoexit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadRuntime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := monitor.RuntimeState{
		TargetPoints:        decimal.RequireFromString("42.5"),
		PaperMode:           true,
		Paused:              true,
		PollIntervalSeconds: 7.5,
		AutoExitEnabled:     false,
	}
	require.NoError(t, s.SaveRuntime(ctx, want))
	want.Paused = false
	require.NoError(t, s.SaveRuntime(ctx, want))

	got, ok, err := s.LoadRuntime(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.TargetPoints.Equal(want.TargetPoints))
	assert.True(t, got.PaperMode)
	assert.False(t, got.Paused)
	assert.Equal(t, 7.5, got.PollIntervalSeconds)
	assert.False(t, got.AutoExitEnabled)
}

func TestPendingExits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePendingExit(ctx, "NIFTY_NRML", 2200))
	require.NoError(t, s.SavePendingExit(ctx, "NIFTY_NRML", 400))
	require.NoError(t, s.SavePendingExit(ctx, "BANK_MIS", 10))
	require.NoError(t, s.DeletePendingExit(ctx, "BANK_MIS"))
	require.NoError(t, s.DeletePendingExit(ctx, "MISSING"))

	pending, err := s.LoadPendingExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"NIFTY_NRML": 400}, pending)
}

func TestPaperTradeLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.LatestOpenPaperTrade(ctx, "NIFTY24DEC24000PE")
	assert.ErrorIs(t, err, trade.ErrNoOpenTrade)

	id, err := s.RecordPaperTrade(ctx, trade.PaperTrade{
		Timestamp:  now,
		Symbol:     "NIFTY24DEC24000PE",
		Side:       "BUY",
		EntryPrice: decimal.RequireFromString("120.5"),
		Quantity:   75,
	})
	require.NoError(t, err)

	open, err := s.LatestOpenPaperTrade(ctx, "NIFTY24DEC24000PE")
	require.NoError(t, err)
	assert.Equal(t, id, open.ID)
	assert.Equal(t, trade.StatusOpen, open.Status)
	assert.False(t, open.ExitPrice.Valid)

	require.NoError(t, s.ClosePaperTrade(ctx, id, decimal.RequireFromString("130.5"), decimal.RequireFromString("750"), "1R"))
	assert.ErrorIs(t, s.ClosePaperTrade(ctx, id, decimal.Zero, decimal.Zero, ""), trade.ErrNoOpenTrade)

	trades, err := s.PaperTradesBetween(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.StatusClosed, trades[0].Status)
	assert.True(t, trades[0].PnL.Decimal.Equal(decimal.NewFromInt(750)))
	assert.Equal(t, "1R", trades[0].RRStage)
}
