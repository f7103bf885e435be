package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

// sampleBlobsPerSymbol bounds how many blobs the analyzer downloads per
// symbol when sampling tick counts.
const sampleBlobsPerSymbol = 20

type (
	// BucketReport summarizes the tick namespace of the data lake.
	BucketReport struct {
		GeneratedAt time.Time      `json:"generated_at"`
		TotalBlobs  int            `json:"total_blobs"`
		Symbols     []SymbolReport `json:"symbols"`
	}

	// SymbolReport is the per-symbol statistics block.
	SymbolReport struct {
		Symbol     market.Symbol `json:"symbol"`
		Blobs      int           `json:"blobs"`
		Days       int           `json:"days"`
		FirstDay   string        `json:"first_day"`
		LastDay    string        `json:"last_day"`
		AvgTicks   float64       `json:"avg_ticks_per_blob,omitempty"`
		TicksStdev float64       `json:"ticks_per_blob_stdev,omitempty"`
	}
)

// Analyze walks every tick blob key in the bucket and aggregates
// per-symbol statistics. With sample set, it additionally downloads a
// bounded number of blobs per symbol to estimate tick counts.
func Analyze(ctx context.Context, logger zerolog.Logger, store BlobStore, sample bool) (*BucketReport, error) {
	keys, err := store.List(ctx, tickPrefix)
	if err != nil {
		return nil, err
	}

	type symbolAgg struct {
		blobs []string
		days  map[string]struct{}
	}
	aggs := map[market.Symbol]*symbolAgg{}

	for _, key := range keys {
		symbol, day, err := ParseTickBlobKey(key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("skipping unrecognized key")
			continue
		}
		agg, ok := aggs[symbol]
		if !ok {
			agg = &symbolAgg{days: map[string]struct{}{}}
			aggs[symbol] = agg
		}
		agg.blobs = append(agg.blobs, key)
		agg.days[util.FormatUTCDate(day)] = struct{}{}
	}

	report := &BucketReport{
		GeneratedAt: time.Now().UTC(),
		TotalBlobs:  len(keys),
	}

	for symbol, agg := range aggs {
		days := make([]string, 0, len(agg.days))
		for d := range agg.days {
			days = append(days, d)
		}
		sort.Strings(days)

		sr := SymbolReport{
			Symbol:   symbol,
			Blobs:    len(agg.blobs),
			Days:     len(days),
			FirstDay: days[0],
			LastDay:  days[len(days)-1],
		}

		if sample {
			counts := sampleTickCounts(ctx, logger, store, agg.blobs)
			if len(counts) > 0 {
				sr.AvgTicks = util.CalcMean(counts)
				sr.TicksStdev = util.CalcStandardDeviation(counts)
			}
		}

		report.Symbols = append(report.Symbols, sr)
	}

	sort.Slice(report.Symbols, func(i, j int) bool {
		return report.Symbols[i].Symbol < report.Symbols[j].Symbol
	})

	return report, nil
}

// sampleTickCounts downloads up to sampleBlobsPerSymbol blobs and
// returns their tick counts. Unreadable blobs are skipped with a warning.
func sampleTickCounts(ctx context.Context, logger zerolog.Logger, store BlobStore, keys []string) []float64 {
	if len(keys) > sampleBlobsPerSymbol {
		// Spread the sample across the key range instead of reading the
		// oldest blobs only.
		step := len(keys) / sampleBlobsPerSymbol
		sampled := make([]string, 0, sampleBlobsPerSymbol)
		for i := 0; i < len(keys) && len(sampled) < sampleBlobsPerSymbol; i += step {
			sampled = append(sampled, keys[i])
		}
		keys = sampled
	}

	counts := make([]float64, 0, len(keys))
	for _, key := range keys {
		body, err := store.Get(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("failed to sample blob")
			continue
		}
		var ticks []market.Tick
		if err := json.Unmarshal(body, &ticks); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("failed to decode blob")
			continue
		}
		counts = append(counts, float64(len(ticks)))
	}
	return counts
}

// WriteTo renders the report as human-readable text.
func (r *BucketReport) WriteTo(w io.Writer) (int64, error) {
	var n int64
	write := func(format string, args ...any) error {
		c, err := fmt.Fprintf(w, format, args...)
		n += int64(c)
		return err
	}

	if err := write("tick blobs: %d symbols, %d blobs\n\n", len(r.Symbols), r.TotalBlobs); err != nil {
		return n, err
	}
	for _, s := range r.Symbols {
		if err := write("%-10s %6d blobs  %5d days  %s .. %s", s.Symbol, s.Blobs, s.Days, s.FirstDay, s.LastDay); err != nil {
			return n, err
		}
		if s.AvgTicks > 0 {
			if err := write("  ~%.0f ticks/blob (stdev %.0f)", s.AvgTicks, s.TicksStdev); err != nil {
				return n, err
			}
		}
		if err := write("\n"); err != nil {
			return n, err
		}
	}
	return n, nil
}

// EncodeJSON renders the report as JSON.
func (r *BucketReport) EncodeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
