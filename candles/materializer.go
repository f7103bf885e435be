package candles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

type (
	// Materializer turns a symbol's tick blobs into 5-minute candle rows,
	// one calendar month at a time. A month whose ticks trip the quality
	// gate is abandoned with an error log and the next month proceeds; a
	// store or database failure aborts the whole run.
	Materializer struct {
		logger zerolog.Logger
		store  lake.BlobStore
		db     CandleStore
		dryRun bool
	}

	// Result is the per-run materialization report.
	Result struct {
		Symbol          market.Symbol `json:"symbol"`
		From            time.Time     `json:"from"`
		To              time.Time     `json:"to"`
		Months          int           `json:"months"`
		AbortedMonths   []string      `json:"aborted_months,omitempty"`
		BlobsRead       int           `json:"blobs_read"`
		TicksRead       int           `json:"ticks_read"`
		TicksDropped    int           `json:"ticks_dropped"`
		CandlesBuilt    int           `json:"candles_built"`
		CandlesUpserted int           `json:"candles_upserted"`
	}
)

// NewMaterializer creates a materializer. With dryRun set, candles are
// built and counted but nothing touches the database.
func NewMaterializer(logger zerolog.Logger, store lake.BlobStore, db CandleStore, dryRun bool) *Materializer {
	return &Materializer{
		logger: logger.With().Str("module", "materializer").Logger(),
		store:  store,
		db:     db,
		dryRun: dryRun,
	}
}

// Run materializes the inclusive UTC day range [from, to] for one
// symbol.
func (m *Materializer) Run(ctx context.Context, symbol market.Symbol, from, to time.Time) (*Result, error) {
	from, to = util.DayStart(from), util.DayStart(to)
	if to.Before(from) {
		return nil, fmt.Errorf("range start %s is after end %s",
			util.FormatUTCDate(from), util.FormatUTCDate(to))
	}

	res := &Result{Symbol: symbol, From: from, To: to}
	logger := m.logger.With().Str("symbol", symbol.String()).Logger()

	for monthStart := firstOfMonth(from); !monthStart.After(to); monthStart = monthStart.AddDate(0, 1, 0) {
		res.Months++
		monthEnd := monthStart.AddDate(0, 1, 0)

		// Clip the month to the requested day range.
		dayFrom, dayTo := monthStart, monthEnd.AddDate(0, 0, -1)
		if dayFrom.Before(from) {
			dayFrom = from
		}
		if dayTo.After(to) {
			dayTo = to
		}

		if err := m.materializeMonth(ctx, logger, res, symbol, monthStart, monthEnd, dayFrom, dayTo); err != nil {
			return res, err
		}
	}

	logger.Info().
		Str("from", util.FormatUTCDate(from)).
		Str("to", util.FormatUTCDate(to)).
		Int("months", res.Months).
		Strs("aborted_months", res.AbortedMonths).
		Int("blobs_read", res.BlobsRead).
		Int("ticks_read", res.TicksRead).
		Int("candles_built", res.CandlesBuilt).
		Int("candles_upserted", res.CandlesUpserted).
		Bool("dry_run", m.dryRun).
		Msg("materialization finished")
	return res, nil
}

func (m *Materializer) materializeMonth(
	ctx context.Context,
	logger zerolog.Logger,
	res *Result,
	symbol market.Symbol,
	monthStart, monthEnd time.Time,
	dayFrom, dayTo time.Time,
) error {
	month := monthStart.Format("2006-01")

	var ticks []market.Tick
	for day := dayFrom; !day.After(dayTo); day = day.AddDate(0, 0, 1) {
		dayTicks, blobs, err := m.readDay(ctx, symbol, day)
		if err != nil {
			return err
		}
		res.BlobsRead += blobs
		ticks = append(ticks, dayTicks...)
	}
	res.TicksRead += len(ticks)
	if len(ticks) == 0 {
		logger.Debug().Str("month", month).Msg("no ticks for month")
		return nil
	}

	candles, stats, err := Build(symbol, ticks)
	if err != nil {
		var qerr *market.QualityError
		if errors.As(err, &qerr) {
			res.AbortedMonths = append(res.AbortedMonths, month)
			logger.Error().Err(err).Str("month", month).Msg("month aborted by quality gate")
			return nil
		}
		return err
	}
	res.TicksDropped += stats.Invalid
	res.CandlesBuilt += len(candles)

	if m.dryRun {
		logger.Info().
			Str("month", month).
			Int("ticks", stats.Used).
			Int("candles", len(candles)).
			Msg("dry run, skipping upsert")
		return nil
	}

	upserted, err := m.db.UpsertCandles(ctx, candles)
	res.CandlesUpserted += upserted
	if err != nil {
		return err
	}
	if err := m.db.RefreshAggregates(ctx, monthStart, monthEnd); err != nil {
		return err
	}

	logger.Info().
		Str("month", month).
		Int("ticks", stats.Used).
		Int("duplicates", stats.Duplicates).
		Int("candles", upserted).
		Msg("materialized month")
	return nil
}

// readDay loads and decodes every blob under one symbol-day prefix.
// Keys are sorted so repeated runs see the blobs in the same order.
func (m *Materializer) readDay(ctx context.Context, symbol market.Symbol, day time.Time) ([]market.Tick, int, error) {
	keys, err := m.store.List(ctx, lake.DayPrefix(symbol, day))
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(keys)

	var ticks []market.Tick
	for _, key := range keys {
		body, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, 0, err
		}
		var blob []market.Tick
		if err := json.Unmarshal(body, &blob); err != nil {
			return nil, 0, fmt.Errorf("decoding %s: %w", key, err)
		}
		ticks = append(ticks, blob...)
	}
	return ticks, len(keys), nil
}

func firstOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
