package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// generateCandles builds a slowly rising series.
func generateCandles(count int) []Candle {
	candles := make([]Candle, count)
	for i := 0; i < count; i++ {
		base := 100.0 + float64(i)*0.5
		candles[i] = Candle{
			OpenTime: time.Unix(int64(i)*300, 0),
			Open:     base,
			High:     base + 1,
			Low:      base - 1,
			Close:    base + 0.3,
			Volume:   1000 + float64(i),
		}
	}
	return candles
}

func TestEMASeriesSeededWithFirstClose(t *testing.T) {
	candles := []Candle{{Close: 10}, {Close: 13}, {Close: 16}}
	ema := EMASeries(candles, 5)

	// multiplier 1/3: 10 → 11 → 12.666...
	assert.InDelta(t, 10.0, ema[0], 1e-9)
	assert.InDelta(t, 11.0, ema[1], 1e-9)
	assert.InDelta(t, 12.0+2.0/3.0, ema[2], 1e-9)
}

func TestEMASeriesLengths(t *testing.T) {
	candles := generateCandles(50)
	assert.Len(t, EMASeries(candles, 5), 50)
	assert.Empty(t, EMASeries(nil, 5))
}

func TestTakeLast(t *testing.T) {
	candles := generateCandles(10)
	assert.Len(t, TakeLast(candles, 3), 3)
	assert.Equal(t, candles[9], TakeLast(candles, 3)[2])
	assert.Len(t, TakeLast(candles, 30), 10)
}

func TestIsStale(t *testing.T) {
	frozen := make([]Candle, 6)
	for i := range frozen {
		frozen[i] = Candle{Close: 100}
	}
	assert.True(t, IsStale(frozen))

	frozen[5].Volume = 10
	assert.False(t, IsStale(frozen))
	assert.False(t, IsStale(generateCandles(10)))
	assert.False(t, IsStale(generateCandles(3)))
}

func TestIntervalDuration(t *testing.T) {
	d, ok := IntervalDuration("5minute")
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)
	_, ok = IntervalDuration("2minute")
	assert.False(t, ok)
}
