package lake_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
)

func TestTickBlobKey(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

	// A tick one second before UTC midnight files under the previous day
	// regardless of when the blob is written.
	firstTick := time.Unix(1704067199, 0)
	key := lake.TickBlobKey("EURUSD", firstTick, now)
	require.Equal(t, "ticks/EURUSD/2023/12/31/part-1704067201000.json", key)

	firstTick = time.Unix(1704067200, 0)
	key = lake.TickBlobKey("EURUSD", firstTick, now)
	require.Equal(t, "ticks/EURUSD/2024/01/01/part-1704067201000.json", key)
}

func TestDayPrefix(t *testing.T) {
	day := time.Date(2023, 11, 3, 15, 30, 0, 0, time.UTC)
	require.Equal(t, "ticks/GBPUSD/2023/11/03/", lake.DayPrefix("GBPUSD", day))
	require.Equal(t, "ticks/GBPUSD/", lake.SymbolPrefix("GBPUSD"))
}

func TestParseTickBlobKey(t *testing.T) {
	testCases := map[string]struct {
		key     string
		symbol  market.Symbol
		day     time.Time
		wantErr bool
	}{
		"valid key": {
			key:    "ticks/EURUSD/2023/12/31/part-1704067201000.json",
			symbol: "EURUSD",
			day:    time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		"foreign namespace": {
			key:     "candles/EURUSD/2023/12/31/part-1.json",
			wantErr: true,
		},
		"missing part segment": {
			key:     "ticks/EURUSD/2023/12/31",
			wantErr: true,
		},
		"bad month": {
			key:     "ticks/EURUSD/2023/13/31/part-1.json",
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			symbol, day, err := lake.ParseTickBlobKey(tc.key)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.symbol, symbol)
			require.Equal(t, tc.day, day)
		})
	}
}
