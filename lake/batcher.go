package lake

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/market"
	pfsync "github.com/fxlake/tickpipe/pkg/sync"
	"github.com/fxlake/tickpipe/telemetry"
)

// Batcher accumulates live ticks per symbol and flushes them to the data
// lake when a symbol's batch reaches maxBatchSize or its oldest tick
// exceeds maxBatchAge. All batch state is owned by a single worker
// goroutine; ticks and timer events arrive on channels, so there are no
// locks around the batch map.
type Batcher struct {
	logger        zerolog.Logger
	store         BlobStore
	maxBatchSize  int
	maxBatchAge   time.Duration
	sweepInterval time.Duration

	in      chan inboundTick
	stop    *pfsync.Closer
	stopped *pfsync.Closer

	// accepting flips false on Stop; Add drops everything after that.
	accepting atomic.Bool

	ticksAccepted atomic.Int64
	ticksDropped  atomic.Int64
	blobsWritten  atomic.Int64
	flushFailures atomic.Int64
}

type inboundTick struct {
	symbol market.Symbol
	tick   market.Tick
}

// batch is one symbol's unflushed ticks, in arrival order.
type batch struct {
	ticks       []market.Tick
	firstTickAt time.Time
	lastUpdated time.Time
}

// NewBatcher creates a batcher over the given store. Call Start before
// feeding it ticks.
func NewBatcher(
	logger zerolog.Logger,
	store BlobStore,
	maxBatchSize int,
	maxBatchAge time.Duration,
	sweepInterval time.Duration,
) *Batcher {
	b := &Batcher{
		logger:        logger.With().Str("module", "batcher").Logger(),
		store:         store,
		maxBatchSize:  maxBatchSize,
		maxBatchAge:   maxBatchAge,
		sweepInterval: sweepInterval,
		in:            make(chan inboundTick, eventBufferSize),
		stop:          pfsync.NewCloser(),
		stopped:       pfsync.NewCloser(),
	}
	b.accepting.Store(true)
	return b
}

const eventBufferSize = 1024

// Start launches the owner worker. The context cancels the worker the
// same way Stop does: remaining batches are flushed before it exits.
func (b *Batcher) Start(ctx context.Context) {
	go b.run(ctx)
}

// Add validates and enqueues one live tick. Invalid ticks are dropped
// with a warning; nothing propagates to the caller. Ticks offered after
// Stop are rejected.
func (b *Batcher) Add(symbol market.Symbol, tick market.Tick) {
	if !b.accepting.Load() {
		return
	}
	if !tick.ValidLive() {
		b.ticksDropped.Add(1)
		telemetry.TickDropped("batcher", "invalid")
		b.logger.Warn().
			Str("symbol", symbol.String()).
			Float64("timestamp", tick.Time).
			Float64("bid", tick.Bid).
			Float64("ask", tick.Ask).
			Msg("dropping invalid tick")
		return
	}

	select {
	case b.in <- inboundTick{symbol: symbol, tick: tick}:
		b.ticksAccepted.Add(1)
	case <-b.stop.Done():
	}
}

// Stop shuts the batcher down, flushing every non-empty batch
// synchronously before returning. No ticks are accepted once Stop has
// been called.
func (b *Batcher) Stop() {
	b.accepting.Store(false)
	b.stop.Close()
	b.stopped.Wait()
}

// Stats implements telemetry.StatsSource.
func (b *Batcher) Stats() map[string]any {
	return map[string]any{
		"ticks_accepted": b.ticksAccepted.Load(),
		"ticks_dropped":  b.ticksDropped.Load(),
		"blobs_written":  b.blobsWritten.Load(),
		"flush_failures": b.flushFailures.Load(),
	}
}

func (b *Batcher) run(ctx context.Context) {
	defer b.stopped.Close()

	batches := map[market.Symbol]*batch{}
	sweeper := time.NewTicker(b.sweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			b.accepting.Store(false)
			b.drainInbound(batches)
			b.flushAll(batches)
			return

		case <-b.stop.Done():
			b.drainInbound(batches)
			b.flushAll(batches)
			return

		case msg := <-b.in:
			entry := b.absorb(batches, msg)
			if len(entry.ticks) >= b.maxBatchSize {
				b.flush(msg.symbol, batches)
			}

		case now := <-sweeper.C:
			for symbol, entry := range batches {
				if len(entry.ticks) > 0 && now.Sub(entry.firstTickAt) >= b.maxBatchAge {
					b.flush(symbol, batches)
				}
			}
		}
	}
}

// absorb appends one inbound tick to its symbol's batch, creating the
// entry on first sight.
func (b *Batcher) absorb(batches map[market.Symbol]*batch, msg inboundTick) *batch {
	entry, ok := batches[msg.symbol]
	if !ok {
		entry = &batch{firstTickAt: time.Now()}
		batches[msg.symbol] = entry
	}
	entry.ticks = append(entry.ticks, msg.tick)
	entry.lastUpdated = time.Now()
	return entry
}

// drainInbound moves everything still queued on the inbound channel into
// the batch map. A tick counts as accepted the moment Add enqueues it,
// so a synchronous stop must flush the queue tail, not just what the
// worker happened to drain before the signal.
func (b *Batcher) drainInbound(batches map[market.Symbol]*batch) {
	for {
		select {
		case msg := <-b.in:
			b.absorb(batches, msg)
		default:
			return
		}
	}
}

// flush writes one symbol's batch as a single blob. On success the entry
// is cleared; on failure it is retained and retried on the next trigger,
// because duplicated ticks are recoverable and lost ticks are not.
func (b *Batcher) flush(symbol market.Symbol, batches map[market.Symbol]*batch) {
	entry := batches[symbol]
	if entry == nil || len(entry.ticks) == 0 {
		return
	}

	body, err := json.Marshal(entry.ticks)
	if err != nil {
		// Only non-finite floats can fail here and validation rejects
		// them at Add, but guard the batch anyway.
		b.logger.Error().Err(err).Str("symbol", symbol.String()).Msg("failed to encode batch")
		return
	}

	key := TickBlobKey(symbol, entry.ticks[0].UTCTime(), time.Now())
	if err := b.store.Put(context.Background(), key, body); err != nil {
		b.flushFailures.Add(1)
		telemetry.FlushFailure("batcher")
		b.logger.Warn().Err(err).
			Str("symbol", symbol.String()).
			Int("ticks", len(entry.ticks)).
			Msg("flush failed, batch retained")
		return
	}

	b.blobsWritten.Add(1)
	telemetry.BlobWritten("batcher")
	b.logger.Debug().
		Str("key", key).
		Int("ticks", len(entry.ticks)).
		Msg("flushed batch")
	delete(batches, symbol)
}

func (b *Batcher) flushAll(batches map[market.Symbol]*batch) {
	for symbol := range batches {
		b.flush(symbol, batches)
	}
}
