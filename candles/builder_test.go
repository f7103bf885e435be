package candles_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/candles"
	"github.com/fxlake/tickpipe/market"
)

func tick(time, bid, ask float64) market.Tick {
	return market.Tick{Time: time, Bid: bid, Ask: ask}
}

func TestBuildSingleBucket(t *testing.T) {
	// Mids 1.1001, 1.1005, 1.1002 inside the bucket starting 1704067200.
	ticks := []market.Tick{
		tick(1704067210, 1.1000, 1.1002),
		tick(1704067220, 1.1004, 1.1006),
		tick(1704067230, 1.1001, 1.1003),
	}

	out, stats, err := candles.Build("EURUSD", ticks)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 3, stats.Used)

	c := out[0]
	require.Equal(t, int64(1704067200), c.BucketStart)
	require.Equal(t, market.Symbol("EURUSD"), c.Symbol)
	require.InDelta(t, 1.1001, c.Open, 1e-9)
	require.InDelta(t, 1.1005, c.High, 1e-9)
	require.InDelta(t, 1.1001, c.Low, 1e-9)
	require.InDelta(t, 1.1002, c.Close, 1e-9)
	require.Zero(t, c.Volume)
	require.Equal(t, int64(3), c.Trades)
}

func TestBuildMultipleBuckets(t *testing.T) {
	ticks := []market.Tick{
		tick(1704067210, 1.1000, 1.1002),
		tick(1704067510, 1.2000, 1.2002),
		tick(1704067520, 1.2004, 1.2006),
		tick(1704067810, 1.3000, 1.3002),
	}

	out, _, err := candles.Build("EURUSD", ticks)
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.Equal(t, int64(1704067200), out[0].BucketStart)
	require.Equal(t, int64(1704067500), out[1].BucketStart)
	require.Equal(t, int64(1704067800), out[2].BucketStart)

	require.Equal(t, int64(2), out[1].Trades)
	require.InDelta(t, 1.2001, out[1].Open, 1e-9)
	require.InDelta(t, 1.2005, out[1].Close, 1e-9)
}

func TestBuildDuplicateTimestampLastWins(t *testing.T) {
	ticks := []market.Tick{
		tick(1704067210, 2.9, 3.1), // mid 3.0
		tick(1704067210, 3.4, 3.6), // mid 3.5, same timestamp: wins
	}

	out, stats, err := candles.Build("EURUSD", ticks)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, stats.Duplicates)
	require.Equal(t, 1, stats.Used)

	c := out[0]
	require.Equal(t, int64(1), c.Trades)
	require.InDelta(t, 3.5, c.Open, 1e-9)
	require.InDelta(t, 3.5, c.High, 1e-9)
	require.InDelta(t, 3.5, c.Low, 1e-9)
	require.InDelta(t, 3.5, c.Close, 1e-9)
}

func TestBuildQualityGate(t *testing.T) {
	makeTicks := func(invalid int) []market.Tick {
		ticks := make([]market.Tick, 0, 1000)
		for i := 0; i < 1000-invalid; i++ {
			ticks = append(ticks, tick(1704067200+float64(i), 1.1000, 1.1002))
		}
		for i := 0; i < invalid; i++ {
			// Crossed book, rejected by validation.
			ticks = append(ticks, tick(1704070000+float64(i), 1.1002, 1.1000))
		}
		return ticks
	}

	t.Run("above gate", func(t *testing.T) {
		out, stats, err := candles.Build("EURUSD", makeTicks(60))
		require.Error(t, err)
		require.Nil(t, out)
		require.Equal(t, 60, stats.Invalid)

		var qerr *market.QualityError
		require.ErrorAs(t, err, &qerr)
		require.Equal(t, market.Symbol("EURUSD"), qerr.Symbol)
		require.Equal(t, 60, qerr.Dropped)
		require.Equal(t, 1000, qerr.Total)
	})

	t.Run("below gate", func(t *testing.T) {
		out, stats, err := candles.Build("EURUSD", makeTicks(40))
		require.NoError(t, err)
		require.NotEmpty(t, out)
		require.Equal(t, 40, stats.Invalid)
		require.Equal(t, 960, stats.Used)
	})
}

func TestBuildEmptyInput(t *testing.T) {
	out, stats, err := candles.Build("EURUSD", nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Zero(t, stats.Total)
}

func TestBuildDeterministic(t *testing.T) {
	ticks := make([]market.Tick, 0, 500)
	for i := 0; i < 500; i++ {
		ticks = append(ticks, tick(1704067200+float64(i*7), 1.1+float64(i)*1e-5, 1.2+float64(i)*1e-5))
	}

	expected, _, err := candles.Build("EURUSD", ticks)
	require.NoError(t, err)

	// Input order must not affect the output.
	shuffled := make([]market.Tick, len(ticks))
	copy(shuffled, ticks)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	got, _, err := candles.Build("EURUSD", shuffled)
	require.NoError(t, err)
	require.Equal(t, expected, got)
}
