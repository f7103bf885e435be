package candles_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/candles"
	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
)

// fakeLake is an in-memory BlobStore.
type fakeLake struct {
	objects map[string][]byte
}

var _ lake.BlobStore = (*fakeLake)(nil)

func newFakeLake() *fakeLake {
	return &fakeLake{objects: map[string][]byte{}}
}

func (f *fakeLake) Put(_ context.Context, key string, body []byte) error {
	f.objects[key] = body
	return nil
}

func (f *fakeLake) Get(_ context.Context, key string) ([]byte, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

func (f *fakeLake) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeLake) putTicks(t *testing.T, symbol market.Symbol, day time.Time, ticks []market.Tick) {
	t.Helper()
	body, err := json.Marshal(ticks)
	require.NoError(t, err)
	require.NoError(t, f.Put(context.Background(), lake.TickBlobKey(symbol, day, day), body))
}

// fakeCandleStore records upserts and refreshes.
type fakeCandleStore struct {
	upserted  []market.Candle
	refreshes [][2]time.Time
	covered   map[string]struct{}
}

var _ candles.CandleStore = (*fakeCandleStore)(nil)

func (f *fakeCandleStore) UpsertCandles(_ context.Context, cs []market.Candle) (int, error) {
	f.upserted = append(f.upserted, cs...)
	return len(cs), nil
}

func (f *fakeCandleStore) RefreshAggregates(_ context.Context, from, to time.Time) error {
	f.refreshes = append(f.refreshes, [2]time.Time{from, to})
	return nil
}

func (f *fakeCandleStore) CoveredDays(context.Context, market.Symbol, time.Time, time.Time) (map[string]struct{}, error) {
	return f.covered, nil
}

func goodTicks(base float64, n int) []market.Tick {
	ticks := make([]market.Tick, 0, n)
	for i := 0; i < n; i++ {
		ticks = append(ticks, market.Tick{Time: base + float64(i*10), Bid: 1.1000, Ask: 1.1002})
	}
	return ticks
}

func TestMaterializerQualityGatePerMonth(t *testing.T) {
	store := newFakeLake()
	db := &fakeCandleStore{}

	// January has clean ticks; February trips the quality gate.
	jan16 := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	store.putTicks(t, "EURUSD", jan16, goodTicks(float64(jan16.Unix()), 20))

	feb5 := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	febTicks := goodTicks(float64(feb5.Unix()), 8)
	for i := 0; i < 2; i++ {
		febTicks = append(febTicks, market.Tick{Time: float64(feb5.Unix()) + float64(100+i), Bid: 1.2, Ask: 1.1})
	}
	store.putTicks(t, "EURUSD", feb5, febTicks)

	m := candles.NewMaterializer(zerolog.Nop(), store, db, false)
	res, err := m.Run(context.Background(),
		"EURUSD",
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	require.Equal(t, 2, res.Months)
	require.Equal(t, []string{"2024-02"}, res.AbortedMonths)
	require.Equal(t, 2, res.BlobsRead)
	require.Equal(t, 30, res.TicksRead)

	// Only January's candles reached the database.
	require.NotEmpty(t, db.upserted)
	require.Equal(t, res.CandlesUpserted, len(db.upserted))
	for _, c := range db.upserted {
		bucket := time.Unix(c.BucketStart, 0).UTC()
		require.Equal(t, time.January, bucket.Month())
	}

	// One aggregate refresh, over the January month window.
	require.Len(t, db.refreshes, 1)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), db.refreshes[0][0])
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), db.refreshes[0][1])
}

func TestMaterializerDryRun(t *testing.T) {
	store := newFakeLake()
	jan16 := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	store.putTicks(t, "EURUSD", jan16, goodTicks(float64(jan16.Unix()), 20))

	m := candles.NewMaterializer(zerolog.Nop(), store, nil, true)
	res, err := m.Run(context.Background(), "EURUSD", jan16, jan16)
	require.NoError(t, err)

	require.Positive(t, res.CandlesBuilt)
	require.Zero(t, res.CandlesUpserted)
}

func TestMaterializerEmptyRange(t *testing.T) {
	m := candles.NewMaterializer(zerolog.Nop(), newFakeLake(), &fakeCandleStore{}, false)
	res, err := m.Run(context.Background(),
		"EURUSD",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Zero(t, res.TicksRead)
	require.Zero(t, res.CandlesBuilt)
}
