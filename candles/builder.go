package candles

import (
	"sort"

	"github.com/fxlake/tickpipe/market"
)

// maxInvalidRatio is the tick quality gate: when more than this share of
// a unit's ticks is invalid, the whole unit is rejected rather than
// materialized from suspect data.
const maxInvalidRatio = 0.05

// BuildStats reports what the builder did with its input.
type BuildStats struct {
	Total      int
	Invalid    int
	Duplicates int
	Used       int
}

// Build converts raw ticks into 5-minute candles for one symbol.
//
// Invalid ticks are dropped first. Ticks sharing a timestamp are
// deduplicated with the last occurrence winning, and duplicates do not
// count toward the invalid rate. If the invalid share of the remaining
// input exceeds the gate, Build returns a *market.QualityError and no
// candles. Output is sorted by bucket and deterministic for a given
// input.
func Build(symbol market.Symbol, ticks []market.Tick) ([]market.Candle, BuildStats, error) {
	stats := BuildStats{Total: len(ticks)}
	if len(ticks) == 0 {
		return nil, stats, nil
	}

	latest := make(map[float64]market.Tick, len(ticks))
	for _, tick := range ticks {
		if !tick.Valid() {
			stats.Invalid++
			continue
		}
		if _, ok := latest[tick.Time]; ok {
			stats.Duplicates++
		}
		latest[tick.Time] = tick
	}
	stats.Used = len(latest)

	considered := stats.Invalid + stats.Used
	if considered > 0 && float64(stats.Invalid)/float64(considered) > maxInvalidRatio {
		return nil, stats, &market.QualityError{
			Symbol:   symbol,
			Total:    considered,
			Dropped:  stats.Invalid,
			MaxRatio: maxInvalidRatio,
		}
	}
	if stats.Used == 0 {
		return nil, stats, nil
	}

	times := make([]float64, 0, len(latest))
	for t := range latest {
		times = append(times, t)
	}
	sort.Float64s(times)

	candles := make([]market.Candle, 0, len(times)/8+1)
	var cur *market.Candle
	for _, t := range times {
		mid := latest[t].Mid()
		bucket := market.BucketStart(t)

		if cur == nil || cur.BucketStart != bucket {
			candles = append(candles, market.Candle{
				BucketStart: bucket,
				Symbol:      symbol,
				Open:        mid,
				High:        mid,
				Low:         mid,
				Close:       mid,
				Trades:      1,
			})
			cur = &candles[len(candles)-1]
			continue
		}

		if mid > cur.High {
			cur.High = mid
		}
		if mid < cur.Low {
			cur.Low = mid
		}
		cur.Close = mid
		cur.Trades++
	}
	return candles, stats, nil
}
