package candles

import (
	"time"

	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

type (
	// Coverage describes which UTC calendar days of a range have candles.
	Coverage struct {
		Symbol      market.Symbol `json:"symbol"`
		From        time.Time     `json:"from"`
		To          time.Time     `json:"to"`
		TotalDays   int           `json:"total_days"`
		CoveredDays int           `json:"covered_days"`
		Missing     []DayRange    `json:"missing,omitempty"`
	}

	// DayRange is an inclusive run of UTC days.
	DayRange struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
)

// Covered reports whether every day in the range has candles.
func (c Coverage) Covered() bool {
	return len(c.Missing) == 0
}

// ComputeCoverage walks the inclusive day range [from, to] and merges
// consecutive uncovered days into sorted, non-overlapping ranges. The
// covered set is keyed by YYYY-MM-DD as returned by the candle store.
func ComputeCoverage(symbol market.Symbol, from, to time.Time, covered map[string]struct{}) Coverage {
	cov := Coverage{
		Symbol: symbol,
		From:   util.DayStart(from),
		To:     util.DayStart(to),
	}

	var openRange *DayRange
	for day := cov.From; !day.After(cov.To); day = day.AddDate(0, 0, 1) {
		cov.TotalDays++

		if _, ok := covered[util.FormatUTCDate(day)]; ok {
			cov.CoveredDays++
			openRange = nil
			continue
		}

		if openRange != nil && openRange.End.AddDate(0, 0, 1).Equal(day) {
			openRange.End = day
			continue
		}
		cov.Missing = append(cov.Missing, DayRange{Start: day, End: day})
		openRange = &cov.Missing[len(cov.Missing)-1]
	}
	return cov
}
