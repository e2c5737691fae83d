package market

import "math"

// EMASeries returns the exponential moving average of closes with
// multiplier 2/(period+1), seeded with the first close (no warm-up bias
// correction). The result has the same length as candles.
func EMASeries(candles []Candle, period int) []float64 {
	res := make([]float64, len(candles))
	if len(candles) == 0 || period <= 0 {
		return res
	}

	multiplier := 2.0 / float64(period+1)
	ema := candles[0].Close
	res[0] = ema
	for i := 1; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*multiplier + ema
		res[i] = ema
	}
	return res
}

// TakeLast returns at most the last n candles.
func TakeLast(candles []Candle, n int) []Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

// IsStale detects a frozen feed: the last five closes unchanged and no volume.
func IsStale(candles []Candle) bool {
	const stalePriceThreshold = 5
	const priceTolerancePct = 0.0001

	if len(candles) < stalePriceThreshold {
		return false
	}

	recent := candles[len(candles)-stalePriceThreshold:]
	first := recent[0].Close
	if first == 0 {
		return true
	}
	for i := 1; i < len(recent); i++ {
		if math.Abs(recent[i].Close-first)/first > priceTolerancePct {
			return false
		}
	}
	for _, c := range recent {
		if c.Volume > 0 {
			return false
		}
	}
	return true
}
