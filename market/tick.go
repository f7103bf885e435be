package market

import (
	"math"
	"time"
)

const (
	// Ticks timestamped outside this window are treated as clock garbage
	// and rejected before they can be filed under a bogus partition day.
	minTickTime = 1577836800 // 2020-01-01T00:00:00Z
	maxTickTime = 1893456000 // 2030-01-01T00:00:00Z
)

// Tick is a single top-of-book observation. Time is Unix seconds with
// sub-second precision allowed; Bid and Ask are strictly positive with
// Bid < Ask. Ticks are immutable once created.
type Tick struct {
	Time float64 `json:"timestamp"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
}

// Mid returns the mid-price (bid+ask)/2 rounded to 5 decimal places.
func (t Tick) Mid() float64 {
	return RoundPrice((t.Bid + t.Ask) / 2)
}

// UTCTime returns the tick timestamp as a UTC time.Time, truncated to
// whole seconds plus nanoseconds from the fractional part.
func (t Tick) UTCTime() time.Time {
	sec := int64(t.Time)
	nsec := int64((t.Time - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// Valid reports whether the tick has finite positive prices with a
// positive spread and a positive finite timestamp. It does not apply
// the live clock-range check; see ValidLive.
func (t Tick) Valid() bool {
	if t.Time <= 0 || math.IsNaN(t.Time) || math.IsInf(t.Time, 0) {
		return false
	}
	if !finitePositive(t.Bid) || !finitePositive(t.Ask) {
		return false
	}
	return t.Bid < t.Ask
}

// ValidLive applies Valid plus the sane clock-range check used by the
// live batcher before accepting a tick.
func (t Tick) ValidLive() bool {
	return t.Valid() && t.Time >= minTickTime && t.Time < maxTickTime
}

// RoundPrice rounds a price to 5 decimal places, the canonical forex
// pip-fraction precision used everywhere in the pipeline.
func RoundPrice(p float64) float64 {
	return math.Round(p*1e5) / 1e5
}

func finitePositive(f float64) bool {
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
