package market

import "time"

// Candle is one OHLCV bar of an instrument.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// intervalDurations maps broker interval names to bar length.
var intervalDurations = map[string]time.Duration{
	"minute":   time.Minute,
	"3minute":  3 * time.Minute,
	"5minute":  5 * time.Minute,
	"10minute": 10 * time.Minute,
	"15minute": 15 * time.Minute,
	"30minute": 30 * time.Minute,
	"60minute": time.Hour,
	"day":      24 * time.Hour,
}

// IntervalDuration returns the bar length of a broker interval name.
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervalDurations[interval]
	return d, ok
}
