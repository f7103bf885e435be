package market

import (
	"errors"
	"fmt"
)

// Error kinds shared across the pipeline. Components wrap these so
// callers can branch with errors.Is instead of matching message text.
var (
	// ErrAuth marks missing or rejected credentials. Fatal for the
	// session that produced it; never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrTransport marks a network or protocol failure on a broker,
	// object-store, or database connection. Always retryable.
	ErrTransport = errors.New("transport failure")

	// ErrInvalidSymbol marks an instrument outside the supported set.
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// QualityError aborts a materialization unit when the share of invalid
// ticks exceeds the gate. Duplicates do not count toward the rate.
type QualityError struct {
	Symbol   Symbol
	Total    int
	Dropped  int
	MaxRatio float64
}

func (e *QualityError) Error() string {
	return fmt.Sprintf(
		"tick quality gate tripped for %s: %d of %d ticks invalid (limit %.1f%%)",
		e.Symbol, e.Dropped, e.Total, e.MaxRatio*100,
	)
}
