package market_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/market"
)

func TestTickValid(t *testing.T) {
	testCases := map[string]struct {
		tick  market.Tick
		valid bool
	}{
		"valid tick": {
			tick:  market.Tick{Time: 1704067210, Bid: 1.1000, Ask: 1.1002},
			valid: true,
		},
		"zero timestamp": {
			tick:  market.Tick{Time: 0, Bid: 1.1000, Ask: 1.1002},
			valid: false,
		},
		"negative bid": {
			tick:  market.Tick{Time: 1704067210, Bid: -1, Ask: 1.1002},
			valid: false,
		},
		"crossed book": {
			tick:  market.Tick{Time: 1704067210, Bid: 1.1002, Ask: 1.1000},
			valid: false,
		},
		"equal bid and ask": {
			tick:  market.Tick{Time: 1704067210, Bid: 1.1, Ask: 1.1},
			valid: false,
		},
		"nan ask": {
			tick:  market.Tick{Time: 1704067210, Bid: 1.1, Ask: math.NaN()},
			valid: false,
		},
		"infinite time": {
			tick:  market.Tick{Time: math.Inf(1), Bid: 1.1, Ask: 1.2},
			valid: false,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.valid, tc.tick.Valid())
		})
	}
}

func TestTickValidLive(t *testing.T) {
	// Structurally fine but timestamped in 1973; the live path rejects it.
	stale := market.Tick{Time: 100000000, Bid: 1.1, Ask: 1.2}
	require.True(t, stale.Valid())
	require.False(t, stale.ValidLive())

	current := market.Tick{Time: 1704067210, Bid: 1.1, Ask: 1.2}
	require.True(t, current.ValidLive())
}

func TestTickMid(t *testing.T) {
	tick := market.Tick{Time: 1704067210, Bid: 1.1000, Ask: 1.1002}
	require.InDelta(t, 1.1001, tick.Mid(), 1e-9)

	// The mid is rounded to 5 decimals even when the raw average carries
	// more precision.
	tick = market.Tick{Time: 1704067210, Bid: 1.100011, Ask: 1.100042}
	require.InDelta(t, 1.10003, tick.Mid(), 1e-9)
}

func TestRoundPrice(t *testing.T) {
	require.InDelta(t, 1.10001, market.RoundPrice(1.1000051), 1e-9)
	require.InDelta(t, 1.1, market.RoundPrice(1.1000049), 1e-9)
	require.InDelta(t, 1.23457, market.RoundPrice(1.23456789), 1e-9)
}

func TestTickUTCTime(t *testing.T) {
	tick := market.Tick{Time: 1704067199.5, Bid: 1.1, Ask: 1.2}
	ts := tick.UTCTime()
	require.Equal(t, time.UTC, ts.Location())
	require.Equal(t, int64(1704067199), ts.Unix())
	require.Equal(t, 500*int(time.Millisecond), ts.Nanosecond())
}

func TestBucketStart(t *testing.T) {
	testCases := map[string]struct {
		time     float64
		expected int64
	}{
		"exact boundary":   {time: 1704067200, expected: 1704067200},
		"inside bucket":    {time: 1704067201.25, expected: 1704067200},
		"last second":      {time: 1704067499.999, expected: 1704067200},
		"next bucket":      {time: 1704067500, expected: 1704067500},
		"previous bucket":  {time: 1704067199, expected: 1704066900},
		"sub-second drift": {time: 1704067200.001, expected: 1704067200},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, market.BucketStart(tc.time))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	testCases := map[string]struct {
		raw      string
		expected market.Symbol
		wantErr  bool
	}{
		"plain":           {raw: "EURUSD", expected: "EURUSD"},
		"slash separator": {raw: "EUR/USD", expected: "EURUSD"},
		"underscore":      {raw: "eur_usd", expected: "EURUSD"},
		"dash and space":  {raw: "gbp- usd", expected: "GBPUSD"},
		"dot separator":   {raw: "USD.JPY", expected: "USDJPY"},
		"empty":           {raw: "", wantErr: true},
		"only separators": {raw: "/_-", wantErr: true},
		"digits":          {raw: "EURUSD1", wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			symbol, err := market.Canonicalize(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, symbol)

			// Canonicalizing a canonical symbol is a no-op.
			again, err := market.Canonicalize(symbol.String())
			require.NoError(t, err)
			require.Equal(t, symbol, again)
		})
	}
}

func TestIsForex(t *testing.T) {
	require.True(t, market.Symbol("EURUSD").IsForex())
	require.True(t, market.Symbol("XAUUSD").IsForex())
	require.True(t, market.Symbol("EURABC").IsForex())
	require.False(t, market.Symbol("ABCDEF").IsForex())
	require.False(t, market.Symbol("BTCUSDT").IsForex())
	require.False(t, market.Symbol("EUR").IsForex())
}
