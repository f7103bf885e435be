package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
	pfsync "github.com/fxlake/tickpipe/pkg/sync"
)

// ErrRouterStopped is returned by router operations after shutdown.
var ErrRouterStopped = errors.New("broker router is stopped")

type (
	// Router owns one session per configured venue plus per-client
	// override sessions, routes subscribe/unsubscribe requests, and
	// re-emits every session's ticks on a single consolidated channel.
	//
	// All mutating operations are serialized through one worker
	// goroutine; the maps below are owned by that worker and never
	// locked.
	Router struct {
		logger zerolog.Logger
		out    chan TickEvent
		cmds   chan command
		closer *pfsync.Closer

		venues       map[string]*venueEntry
		clientVenues map[string]map[string]Session
		symbolVenue  map[market.Symbol]string
	}

	venueEntry struct {
		session Session
		kind    string
	}

	command struct {
		fn    func() error
		errCh chan error
	}
)

// NewRouter creates an empty router. Start must be called before any
// other operation.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		logger:       logger.With().Str("module", "broker").Logger(),
		out:          make(chan TickEvent, eventBuffer),
		cmds:         make(chan command),
		closer:       pfsync.NewCloser(),
		venues:       map[string]*venueEntry{},
		clientVenues: map[string]map[string]Session{},
		symbolVenue:  map[market.Symbol]string{},
	}
}

// Ticks returns the consolidated tick event channel.
func (r *Router) Ticks() <-chan TickEvent {
	return r.out
}

// Start runs the aggregator worker until the context is cancelled, at
// which point every owned session is disconnected.
func (r *Router) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				r.disconnectAll()
				r.closer.Close()
				return
			case cmd := <-r.cmds:
				cmd.errCh <- cmd.fn()
			}
		}
	}()
}

// do runs fn on the router worker and waits for its result.
func (r *Router) do(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case r.cmds <- command{fn: fn, errCh: errCh}:
	case <-r.closer.Done():
		return ErrRouterStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-r.closer.Done():
		return ErrRouterStopped
	}
}

// AddVenue constructs and connects the session for a venue. A failed
// connect is logged but the session is kept; its internal reconnect will
// retry. Only misconfiguration is returned as an error.
func (r *Router) AddVenue(cfg config.Venue) error {
	return r.do(func() error {
		if _, ok := r.venues[cfg.Name]; ok {
			return fmt.Errorf("venue %q already added", cfg.Name)
		}

		session, err := NewSession(r.logger, cfg, r.out, "")
		if err != nil {
			return err
		}

		if err := session.Connect(); err != nil {
			r.logger.Warn().Err(err).Str("venue", cfg.Name).Msg("initial connect failed")
		}
		r.venues[cfg.Name] = &venueEntry{session: session, kind: cfg.Kind}
		return nil
	})
}

// AddClientVenue creates an isolated session for one client with its own
// credentials. Ticks from it carry the client id.
func (r *Router) AddClientVenue(clientID string, cfg config.Venue) error {
	return r.do(func() error {
		if clientID == "" {
			return fmt.Errorf("empty client id")
		}
		if _, ok := r.clientVenues[clientID][cfg.Name]; ok {
			return fmt.Errorf("client %q already has venue %q", clientID, cfg.Name)
		}

		session, err := NewSession(r.logger, cfg, r.out, clientID)
		if err != nil {
			return err
		}
		if err := session.Connect(); err != nil {
			r.logger.Warn().Err(err).
				Str("venue", cfg.Name).
				Str("client_id", clientID).
				Msg("initial connect failed")
		}

		if r.clientVenues[clientID] == nil {
			r.clientVenues[clientID] = map[string]Session{}
		}
		r.clientVenues[clientID][cfg.Name] = session
		return nil
	})
}

// Subscribe routes a subscription to the named venue, or picks one
// heuristically when venue is empty: forex-looking symbols go to a
// stream venue, others to a websocket venue, falling back to any
// connected session.
func (r *Router) Subscribe(venue, clientID string, symbols ...market.Symbol) error {
	return r.do(func() error {
		for _, sym := range symbols {
			target, err := r.resolve(venue, clientID, sym)
			if err != nil {
				return err
			}
			if err := target.session.Subscribe(sym); err != nil {
				r.logger.Warn().Err(err).
					Str("venue", target.session.Name()).
					Str("symbol", sym.String()).
					Msg("subscribe failed")
				continue
			}
			if clientID == "" {
				r.symbolVenue[sym] = target.session.Name()
			}
		}
		return nil
	})
}

// Unsubscribe removes symbols, using the symbol→venue map when no venue
// is named.
func (r *Router) Unsubscribe(venue, clientID string, symbols ...market.Symbol) error {
	return r.do(func() error {
		for _, sym := range symbols {
			name := venue
			if name == "" {
				name = r.symbolVenue[sym]
			}
			target, err := r.lookup(name, clientID)
			if err != nil {
				return err
			}
			if err := target.Unsubscribe(sym); err != nil {
				r.logger.Warn().Err(err).
					Str("venue", target.Name()).
					Str("symbol", sym.String()).
					Msg("unsubscribe failed")
				continue
			}
			if clientID == "" {
				delete(r.symbolVenue, sym)
			}
		}
		return nil
	})
}

// DisconnectAll tears down every owned session.
func (r *Router) DisconnectAll() error {
	return r.do(func() error {
		r.disconnectAll()
		return nil
	})
}

// Stats implements telemetry.StatsSource.
func (r *Router) Stats() map[string]any {
	stats := map[string]any{}
	err := r.do(func() error {
		venues := map[string]int{}
		for name, entry := range r.venues {
			venues[name] = len(entry.session.Subscriptions())
		}
		stats["venues"] = venues
		stats["routed_symbols"] = len(r.symbolVenue)
		stats["client_sessions"] = len(r.clientVenues)
		return nil
	})
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return stats
}

// resolve finds the venue entry for a subscribe call. Runs on the
// router worker.
func (r *Router) resolve(venue, clientID string, sym market.Symbol) (*venueEntry, error) {
	if venue != "" || clientID != "" {
		session, err := r.lookup(venue, clientID)
		if err != nil {
			return nil, err
		}
		return &venueEntry{session: session}, nil
	}

	// Heuristic: forex symbols prefer the stream venue, everything else
	// prefers a framed-socket venue.
	preferred := config.VenueKindWebsocket
	if sym.IsForex() {
		preferred = config.VenueKindStream
	}
	var fallback *venueEntry
	for _, entry := range r.venues {
		if !entry.session.Connected() {
			continue
		}
		if entry.kind == preferred {
			return entry, nil
		}
		if fallback == nil {
			fallback = entry
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no connected venue available for %s", sym)
}

// lookup finds a named session, in the per-client set when clientID is
// given. Runs on the router worker.
func (r *Router) lookup(venue, clientID string) (Session, error) {
	if clientID != "" {
		session, ok := r.clientVenues[clientID][venue]
		if !ok {
			return nil, fmt.Errorf("client %q has no venue %q", clientID, venue)
		}
		return session, nil
	}
	entry, ok := r.venues[venue]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", venue)
	}
	return entry.session, nil
}

func (r *Router) disconnectAll() {
	for name, entry := range r.venues {
		if err := entry.session.Disconnect(); err != nil {
			r.logger.Warn().Err(err).Str("venue", name).Msg("disconnect failed")
		}
	}
	for clientID, sessions := range r.clientVenues {
		for name, session := range sessions {
			if err := session.Disconnect(); err != nil {
				r.logger.Warn().Err(err).
					Str("venue", name).
					Str("client_id", clientID).
					Msg("disconnect failed")
			}
		}
	}
}
