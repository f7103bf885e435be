package candles

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/telemetry"
	"github.com/fxlake/tickpipe/util"
)

// Schema is the candle table and continuous-aggregate DDL, shipped with
// the binary so `tickpipe schema` can print it for psql.
//
//go:embed schema.sql
var Schema string

// upsertBatchSize bounds how many candle rows go into one database
// round trip.
const upsertBatchSize = 500

const upsertSQL = `
INSERT INTO candles_5m (time, symbol, open, high, low, close, volume, trades)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (symbol, time) DO UPDATE SET
	open   = EXCLUDED.open,
	high   = EXCLUDED.high,
	low    = EXCLUDED.low,
	close  = EXCLUDED.close,
	volume = EXCLUDED.volume,
	trades = EXCLUDED.trades`

// aggregateViews are refreshed, smallest timeframe first, after every
// successful upsert window.
var aggregateViews = []string{"candles_15m", "candles_1h", "candles_4h", "candles_12h"}

// CandleStore is the database surface the materializer and backfill
// depend on. Tests swap in an in-memory implementation.
type CandleStore interface {
	UpsertCandles(ctx context.Context, cs []market.Candle) (int, error)
	RefreshAggregates(ctx context.Context, from, to time.Time) error
	CoveredDays(ctx context.Context, symbol market.Symbol, from, to time.Time) (map[string]struct{}, error)
}

var _ CandleStore = (*Store)(nil)

// Store is the TimescaleDB-backed CandleStore.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore connects a pgx pool to the configured database and verifies
// the connection with a ping.
func NewStore(ctx context.Context, logger zerolog.Logger, cfg config.Database) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating database pool: %v", market.ErrTransport, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", market.ErrTransport, err)
	}

	return &Store{
		pool:   pool,
		logger: logger.With().Str("module", "candlestore").Logger(),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertCandles writes candles in fixed-size batches, replacing any
// existing row for the same (symbol, time). Invalid candles are dropped
// with a warning. Returns the number of rows written.
func (s *Store) UpsertCandles(ctx context.Context, cs []market.Candle) (int, error) {
	rows := make([]market.Candle, 0, len(cs))
	for _, c := range cs {
		if !c.Valid() {
			s.logger.Warn().
				Str("symbol", c.Symbol.String()).
				Int64("bucket", c.BucketStart).
				Msg("dropping invalid candle")
			continue
		}
		rows = append(rows, c)
	}

	upserted := 0
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := &pgx.Batch{}
		for _, c := range rows[start:end] {
			batch.Queue(
				upsertSQL,
				time.Unix(c.BucketStart, 0).UTC(),
				c.Symbol.String(),
				c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades,
			)
		}

		br := s.pool.SendBatch(ctx, batch)
		var execErr error
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil && execErr == nil {
				execErr = err
			}
		}
		if err := br.Close(); err != nil && execErr == nil {
			execErr = err
		}
		if execErr != nil {
			return upserted, fmt.Errorf("%w: upserting candles: %v", market.ErrTransport, execErr)
		}
		upserted += end - start
	}

	telemetry.CandlesUpserted(upserted)
	return upserted, nil
}

// RefreshAggregates refreshes every continuous aggregate over the given
// window, smallest timeframe first.
func (s *Store) RefreshAggregates(ctx context.Context, from, to time.Time) error {
	for _, view := range aggregateViews {
		stmt := fmt.Sprintf("CALL refresh_continuous_aggregate('%s', $1, $2)", view)
		if _, err := s.pool.Exec(ctx, stmt, from.UTC(), to.UTC()); err != nil {
			return fmt.Errorf("%w: refreshing %s: %v", market.ErrTransport, view, err)
		}
		s.logger.Debug().
			Str("view", view).
			Time("from", from.UTC()).
			Time("to", to.UTC()).
			Msg("refreshed continuous aggregate")
	}
	return nil
}

// CoveredDays returns the set of UTC days in [from, to) that have at
// least one candle for the symbol, keyed by YYYY-MM-DD.
func (s *Store) CoveredDays(ctx context.Context, symbol market.Symbol, from, to time.Time) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT (time AT TIME ZONE 'UTC')::date
		 FROM candles_5m
		 WHERE symbol = $1 AND time >= $2 AND time < $3`,
		symbol.String(), from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying coverage: %v", market.ErrTransport, err)
	}
	defer rows.Close()

	covered := map[string]struct{}{}
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("%w: scanning coverage row: %v", market.ErrTransport, err)
		}
		covered[util.FormatUTCDate(day)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading coverage rows: %v", market.ErrTransport, err)
	}
	return covered, nil
}
