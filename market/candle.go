package market

import "math"

// CandleInterval is the base bucket width in seconds. Larger timeframes
// are continuous aggregates over this one and never built in-process.
const CandleInterval int64 = 300

// Candle is one OHLC record over a single 5-minute bucket for one symbol.
// Open and Close are the mids of the first and last tick in the bucket,
// High/Low the extreme mids. Volume is always zero for tick-sourced data.
type Candle struct {
	BucketStart int64
	Symbol      Symbol
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Trades      int64
}

// BucketStart returns the start of the 5-minute bucket containing the
// given Unix-seconds timestamp.
func BucketStart(t float64) int64 {
	return int64(math.Floor(t/float64(CandleInterval))) * CandleInterval
}

// Valid reports whether every numeric field is finite and the symbol is
// non-empty. Invalid candles are dropped before upsert.
func (c Candle) Valid() bool {
	if c.Symbol == "" || c.Trades < 1 {
		return false
	}
	for _, f := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
