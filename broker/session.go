package broker

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
)

const (
	// pingPeriod is how often framed-socket sessions ping the venue.
	pingPeriod = 30 * time.Second

	// reconnectDelay bounds how soon a dropped session redials.
	reconnectDelay = 5 * time.Second

	// eventBuffer sizes the consolidated tick channel. Bursty venues
	// briefly outrun the batcher without blocking the read loop.
	eventBuffer = 1024
)

// TickEvent is one normalized quote emitted by a broker session.
type TickEvent struct {
	Venue    string
	ClientID string
	Symbol   market.Symbol
	Time     float64
	Bid      float64
	Ask      float64
}

// Tick converts the event to a bare market tick.
func (e TickEvent) Tick() market.Tick {
	return market.Tick{Time: e.Time, Bid: e.Bid, Ask: e.Ask}
}

// Session defines the contract a broker venue connection must implement.
// Network and protocol failures never escape a session; they trigger an
// internal reconnect. Only misconfiguration is surfaced by Connect.
type Session interface {
	// Name returns the configured venue name.
	Name() string

	// Connect establishes the transport and starts the read loop.
	Connect() error

	// Subscribe adds symbols to the subscription set and reconciles it
	// with the transport.
	Subscribe(symbols ...market.Symbol) error

	// Unsubscribe removes symbols from the subscription set.
	Unsubscribe(symbols ...market.Symbol) error

	// Subscriptions returns the current subscription set.
	Subscriptions() []market.Symbol

	// Connected reports whether the session currently has a live
	// transport (or, for deferred-dial sessions, is ready to dial).
	Connected() bool

	// Disconnect closes the transport and cancels any pending
	// reconnect. Idempotent.
	Disconnect() error
}

// NewSession constructs the session variant for the venue kind. An
// unknown kind is a configuration error and fatal to the caller.
func NewSession(
	logger zerolog.Logger,
	cfg config.Venue,
	out chan<- TickEvent,
	clientID string,
) (Session, error) {
	switch cfg.Kind {
	case config.VenueKindWebsocket:
		return NewKrakenSession(logger, cfg, out, clientID)
	case config.VenueKindStream:
		return NewOandaSession(logger, cfg, out, clientID)
	case config.VenueKindMock:
		return NewMockSession(logger, cfg, out, clientID), nil
	default:
		return nil, fmt.Errorf("unknown venue kind %q for venue %q", cfg.Kind, cfg.Name)
	}
}
