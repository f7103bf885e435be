package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

const transientRetryDelay = 30 * time.Second

// descentSizes are the sub-chunk sizes tried, in order, when the
// provider's buffer fails on a window. Below one hour the window is
// declared empty instead of being split further.
var descentSizes = []time.Duration{6 * time.Hour, time.Hour}

type (
	// Importer downloads historical ticks chunk by chunk and lands each
	// successful chunk as one blob in the data lake. A bad provider day
	// never aborts the job; the chunk is skipped with a warning and the
	// walk continues.
	Importer struct {
		logger     zerolog.Logger
		store      lake.BlobStore
		provider   Provider
		allowlist  map[market.Symbol]struct{}
		chunk      time.Duration
		pacing     time.Duration
		retryDelay time.Duration
	}

	// Summary is the per-job import report.
	Summary struct {
		JobID        string        `json:"job_id"`
		Symbol       market.Symbol `json:"symbol"`
		From         time.Time     `json:"from"`
		To           time.Time     `json:"to"`
		Chunks       int           `json:"chunks"`
		ClosedChunks int           `json:"closed_chunks"`
		EmptyChunks  int           `json:"empty_chunks"`
		NoDataChunks int           `json:"no_data_chunks"`
		FailedChunks int           `json:"failed_chunks"`
		BlobsWritten int           `json:"blobs_written"`
		TicksWritten int           `json:"ticks_written"`
		TicksDropped int           `json:"ticks_dropped"`
		Elapsed      time.Duration `json:"elapsed"`
	}
)

// NewImporter builds an importer from the history configuration. The
// instrument allowlist is canonicalized once here so Run can reject
// unknown symbols before any network traffic.
func NewImporter(
	logger zerolog.Logger,
	store lake.BlobStore,
	provider Provider,
	cfg config.History,
) (*Importer, error) {
	pacing, err := time.ParseDuration(cfg.PacingDelay)
	if err != nil {
		return nil, fmt.Errorf("history pacing_delay: %w", err)
	}
	if cfg.ChunkHours < 1 {
		return nil, fmt.Errorf("history chunk_hours must be positive")
	}

	allowlist := make(map[market.Symbol]struct{}, len(cfg.Instruments))
	for _, raw := range cfg.Instruments {
		symbol, err := market.Canonicalize(raw)
		if err != nil {
			return nil, fmt.Errorf("history instrument %q: %w", raw, err)
		}
		allowlist[symbol] = struct{}{}
	}

	return &Importer{
		logger:     logger.With().Str("module", "importer").Logger(),
		store:      store,
		provider:   provider,
		allowlist:  allowlist,
		chunk:      time.Duration(cfg.ChunkHours) * time.Hour,
		pacing:     pacing,
		retryDelay: transientRetryDelay,
	}, nil
}

// Run imports [from, to) for one symbol. The range is walked in fixed
// chunks; weekend-closed windows are skipped without a fetch, and each
// chunk that yields ticks becomes exactly one blob keyed by the chunk's
// start date. Only an unknown symbol, a cancelled context, or a data
// lake write failure abort the job.
func (im *Importer) Run(ctx context.Context, symbol market.Symbol, from, to time.Time) (*Summary, error) {
	if _, ok := im.allowlist[symbol]; !ok {
		return nil, fmt.Errorf("%w: %s is not in the history instrument allowlist", market.ErrInvalidSymbol, symbol)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("import range start %s is not before end %s",
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	}

	sum := &Summary{
		JobID:  uuid.NewString(),
		Symbol: symbol,
		From:   from.UTC(),
		To:     to.UTC(),
	}
	logger := im.logger.With().Str("job_id", sum.JobID).Str("symbol", symbol.String()).Logger()
	started := time.Now()

	logger.Info().
		Time("from", sum.From).
		Time("to", sum.To).
		Dur("chunk", im.chunk).
		Msg("starting import")

	for chunkStart := from.UTC(); chunkStart.Before(to); {
		chunkEnd := chunkStart.Add(im.chunk)
		if chunkEnd.After(to) {
			chunkEnd = to.UTC()
		}
		sum.Chunks++

		if marketClosed(chunkStart, chunkEnd) {
			sum.ClosedChunks++
			logger.Debug().
				Time("from", chunkStart).
				Time("to", chunkEnd).
				Msg("skipping weekend-closed window")
			chunkStart = chunkEnd
			continue
		}

		if err := im.importChunk(ctx, logger, sum, symbol, chunkStart, chunkEnd); err != nil {
			return sum, err
		}
		chunkStart = chunkEnd

		if chunkStart.Before(to) {
			if err := sleepCtx(ctx, im.pacing); err != nil {
				return sum, err
			}
		}
	}

	sum.Elapsed = time.Since(started)
	logger.Info().
		Int("chunks", sum.Chunks).
		Int("closed_chunks", sum.ClosedChunks).
		Int("empty_chunks", sum.EmptyChunks).
		Int("no_data_chunks", sum.NoDataChunks).
		Int("failed_chunks", sum.FailedChunks).
		Int("blobs_written", sum.BlobsWritten).
		Int("ticks_written", sum.TicksWritten).
		Int("ticks_dropped", sum.TicksDropped).
		Dur("elapsed", sum.Elapsed).
		Msg("import finished")
	return sum, nil
}

// importChunk fetches one window and uploads it. A buffer failure splits
// the window into progressively smaller sub-windows; when even a one
// hour window fails, the window is recorded as having no data and the
// walk moves on.
func (im *Importer) importChunk(
	ctx context.Context,
	logger zerolog.Logger,
	sum *Summary,
	symbol market.Symbol,
	from, to time.Time,
) error {
	ticks, err := im.fetchWithRetry(ctx, logger, symbol, from, to)
	if err != nil {
		if errors.Is(err, ErrProviderBuffer) {
			span := to.Sub(from)
			if next, ok := nextDescentSize(span); ok {
				logger.Debug().
					Time("from", from).
					Time("to", to).
					Dur("sub_chunk", next).
					Msg("provider buffer exhausted, descending to smaller windows")
				for sub := from; sub.Before(to); {
					subEnd := sub.Add(next)
					if subEnd.After(to) {
						subEnd = to
					}
					if err := im.importChunk(ctx, logger, sum, symbol, sub, subEnd); err != nil {
						return err
					}
					sub = subEnd
				}
				return nil
			}
			sum.NoDataChunks++
			logger.Info().
				Time("from", from).
				Time("to", to).
				Msg("no data available for window")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sum.FailedChunks++
		logger.Warn().Err(err).
			Time("from", from).
			Time("to", to).
			Msg("skipping window after fetch failure")
		return nil
	}

	clean := make([]market.Tick, 0, len(ticks))
	for _, tick := range ticks {
		if !tick.Valid() {
			sum.TicksDropped++
			continue
		}
		clean = append(clean, tick)
	}
	if len(clean) == 0 {
		sum.EmptyChunks++
		return nil
	}

	body, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("encoding chunk %s: %w", from.Format(time.RFC3339), err)
	}

	// Suffix the key with the chunk start rather than the wall clock:
	// sub-chunks can land within the same millisecond, and chunk starts
	// are unique per job.
	key := lake.TickBlobKey(symbol, from, from)
	if err := im.store.Put(ctx, key, body); err != nil {
		return fmt.Errorf("uploading chunk %s: %w", key, err)
	}

	sum.BlobsWritten++
	sum.TicksWritten += len(clean)
	logger.Debug().
		Str("key", key).
		Int("ticks", len(clean)).
		Msg("uploaded chunk")
	return nil
}

// fetchWithRetry gives a transiently-failed window one delayed retry
// before handing the error back for the skip path.
func (im *Importer) fetchWithRetry(
	ctx context.Context,
	logger zerolog.Logger,
	symbol market.Symbol,
	from, to time.Time,
) ([]market.Tick, error) {
	ticks, err := im.provider.Fetch(ctx, symbol, from, to)
	if err == nil || !IsTransient(err) {
		return ticks, err
	}

	logger.Warn().Err(err).
		Time("from", from).
		Time("to", to).
		Dur("retry_in", im.retryDelay).
		Msg("transient fetch failure, retrying window once")
	if err := sleepCtx(ctx, im.retryDelay); err != nil {
		return nil, err
	}
	return im.provider.Fetch(ctx, symbol, from, to)
}

// marketClosed reports whether the whole window falls inside the
// weekend close. The close is one contiguous window per weekend, so for
// day-sized chunks checking both ends is sufficient.
func marketClosed(from, to time.Time) bool {
	return util.InWeekendClose(from) && util.InWeekendClose(to.Add(-time.Second))
}

func nextDescentSize(span time.Duration) (time.Duration, bool) {
	for _, size := range descentSizes {
		if span > size {
			return size, true
		}
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
