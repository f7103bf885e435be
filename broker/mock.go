package broker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
)

const mockEmitInterval = 500 * time.Millisecond

var _ Session = (*MockSession)(nil)

// MockSession emits synthetic ticks for its subscribed symbols on a
// timer. Used by integration tests and local development when no venue
// credentials are configured.
type MockSession struct {
	name     string
	clientID string
	logger   zerolog.Logger
	out      chan<- TickEvent

	mtx    sync.Mutex
	subs   map[market.Symbol]float64 // symbol -> current mid
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// NewMockSession creates a new MockSession.
func NewMockSession(
	logger zerolog.Logger,
	cfg config.Venue,
	out chan<- TickEvent,
	clientID string,
) *MockSession {
	return &MockSession{
		name:     cfg.Name,
		clientID: clientID,
		logger:   logger.With().Str("venue", cfg.Name).Logger(),
		out:      out,
		subs:     map[market.Symbol]float64{},
	}
}

func (s *MockSession) Name() string { return s.name }

func (s *MockSession) Connect() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed || s.ticker != nil {
		return nil
	}
	s.ticker = time.NewTicker(mockEmitInterval)
	s.done = make(chan struct{})
	go s.emitLoop(s.ticker, s.done)
	return nil
}

func (s *MockSession) Subscribe(symbols ...market.Symbol) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, sym := range symbols {
		if _, ok := s.subs[sym]; !ok {
			s.subs[sym] = 1.0 + rand.Float64()
		}
	}
	return nil
}

func (s *MockSession) Unsubscribe(symbols ...market.Symbol) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, sym := range symbols {
		delete(s.subs, sym)
	}
	return nil
}

func (s *MockSession) Connected() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return !s.closed && s.ticker != nil
}

func (s *MockSession) Subscriptions() []market.Symbol {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	symbols := make([]market.Symbol, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	return symbols
}

func (s *MockSession) Disconnect() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.ticker = nil
	}
	return nil
}

func (s *MockSession) emitLoop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s.emit(now)
		}
	}
}

// emit walks each subscribed mid a fraction of a pip and publishes the
// resulting quote.
func (s *MockSession) emit(now time.Time) {
	s.mtx.Lock()
	events := make([]TickEvent, 0, len(s.subs))
	for sym, mid := range s.subs {
		mid += (rand.Float64() - 0.5) * 1e-4
		if mid < 1e-4 {
			mid = 1e-4
		}
		s.subs[sym] = mid

		spread := mid * 1e-4
		events = append(events, TickEvent{
			Venue:    s.name,
			ClientID: s.clientID,
			Symbol:   sym,
			Time:     float64(now.UnixNano()) / float64(time.Second),
			Bid:      market.RoundPrice(mid - spread/2),
			Ask:      market.RoundPrice(mid + spread/2),
		})
	}
	s.mtx.Unlock()

	for _, ev := range events {
		s.out <- ev
	}
}
