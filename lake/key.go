package lake

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

// tickContentType is the content type for every tick blob.
const tickContentType = "application/json"

// tickPrefix is the root of the tick blob namespace.
const tickPrefix = "ticks/"

// TickBlobKey returns the canonical blob key
// ticks/{SYMBOL}/{YYYY}/{MM}/{DD}/part-{millis}.json, with the date
// components derived in UTC from the first tick in the blob. The
// millisecond suffix keeps keys unique per writer; blobs are never
// overwritten.
func TickBlobKey(symbol market.Symbol, firstTick time.Time, now time.Time) string {
	year, month, day := util.DateComponents(firstTick)
	return fmt.Sprintf("%s%s/%s/%s/%s/part-%d.json", tickPrefix, symbol, year, month, day, now.UnixMilli())
}

// SymbolPrefix returns the listing prefix for one symbol's blobs.
func SymbolPrefix(symbol market.Symbol) string {
	return tickPrefix + symbol.String() + "/"
}

// DayPrefix returns the listing prefix for one symbol-day.
func DayPrefix(symbol market.Symbol, day time.Time) string {
	year, month, dd := util.DateComponents(day)
	return fmt.Sprintf("%s%s/%s/%s/%s/", tickPrefix, symbol, year, month, dd)
}

// ParseTickBlobKey extracts the symbol and UTC partition day from a blob
// key. Keys outside the tick namespace return an error.
func ParseTickBlobKey(key string) (market.Symbol, time.Time, error) {
	if !strings.HasPrefix(key, tickPrefix) {
		return "", time.Time{}, fmt.Errorf("key %q is not a tick blob", key)
	}
	parts := strings.Split(strings.TrimPrefix(key, tickPrefix), "/")
	if len(parts) != 5 {
		return "", time.Time{}, fmt.Errorf("key %q has unexpected shape", key)
	}

	symbol, err := market.Canonicalize(parts[0])
	if err != nil {
		return "", time.Time{}, err
	}
	day, err := util.ParseUTCDate(fmt.Sprintf("%s-%s-%s", parts[1], parts[2], parts[3]))
	if err != nil {
		return "", time.Time{}, err
	}
	return symbol, day, nil
}
