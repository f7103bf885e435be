package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/telemetry"
)

// maxStreamLine bounds a single pricing-stream line.
const maxStreamLine = 1 << 20

var _ Session = (*OandaSession)(nil)

type (
	// OandaSession consumes the OANDA v20 pricing stream: a long-poll GET
	// returning newline-delimited JSON records, authenticated with a
	// Bearer token. The subscription set is encoded in the request URL,
	// so reconciling it means tearing the stream down and redialing with
	// the preserved set.
	//
	// REF: https://developer.oanda.com/rest-live-v20/pricing-ep/
	OandaSession struct {
		name      string
		clientID  string
		logger    zerolog.Logger
		out       chan<- TickEvent
		rest      string
		apiKey    string
		accountID string
		client    *http.Client

		mtx    sync.Mutex
		subs   map[market.Symbol]struct{}
		cancel context.CancelFunc
		closed bool

		reconnecting   atomic.Bool
		reconnectTimer *time.Timer
	}

	// OandaPriceRecord is one line of the pricing stream.
	OandaPriceRecord struct {
		Type       string            `json:"type"` // PRICE | HEARTBEAT
		Instrument string            `json:"instrument"`
		Time       string            `json:"time"` // RFC3339 with fractional seconds
		Bids       []OandaPriceLevel `json:"bids"`
		Asks       []OandaPriceLevel `json:"asks"`
	}

	// OandaPriceLevel is one side of the quoted book.
	OandaPriceLevel struct {
		Price string `json:"price"`
	}
)

// NewOandaSession creates a new OandaSession. Missing credentials are a
// configuration error, not a retryable one.
func NewOandaSession(
	logger zerolog.Logger,
	cfg config.Venue,
	out chan<- TickEvent,
	clientID string,
) (*OandaSession, error) {
	if cfg.APIKey == "" || cfg.AccountID == "" {
		return nil, fmt.Errorf("%w: venue %q requires apikey and account_id", market.ErrAuth, cfg.Name)
	}

	return &OandaSession{
		name:      cfg.Name,
		clientID:  clientID,
		logger:    logger.With().Str("venue", cfg.Name).Logger(),
		out:       out,
		rest:      strings.TrimRight(cfg.Rest, "/"),
		apiKey:    cfg.APIKey,
		accountID: cfg.AccountID,
		client:    &http.Client{}, // no timeout: the stream is long-lived
		subs:      map[market.Symbol]struct{}{},
	}, nil
}

func (s *OandaSession) Name() string { return s.name }

// Connect validates credentials and, when the subscription set is
// non-empty, dials the stream. With no subscriptions there is nothing to
// encode into the stream URL, so the dial is deferred to Subscribe.
func (s *OandaSession) Connect() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return fmt.Errorf("session %s is disconnected", s.name)
	}
	if len(s.subs) == 0 {
		return nil
	}
	return s.retryOnFailLocked(s.redialLocked())
}

// Subscribe adds symbols and redials the stream with the expanded set.
func (s *OandaSession) Subscribe(symbols ...market.Symbol) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	changed := false
	for _, sym := range symbols {
		if _, ok := s.subs[sym]; !ok {
			s.subs[sym] = struct{}{}
			changed = true
		}
	}
	if !changed || s.closed {
		return nil
	}
	return s.retryOnFailLocked(s.redialLocked())
}

// Unsubscribe removes symbols; the stream is redialed with the reduced
// set, or torn down outright when it becomes empty.
func (s *OandaSession) Unsubscribe(symbols ...market.Symbol) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	changed := false
	for _, sym := range symbols {
		if _, ok := s.subs[sym]; ok {
			delete(s.subs, sym)
			changed = true
		}
	}
	if !changed || s.closed {
		return nil
	}
	if len(s.subs) == 0 {
		s.teardownLocked()
		return nil
	}
	return s.retryOnFailLocked(s.redialLocked())
}

// Connected reports whether the session can serve subscriptions: either
// the stream is up, or it is idle because nothing is subscribed yet.
func (s *OandaSession) Connected() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return !s.closed && (s.cancel != nil || len(s.subs) == 0)
}

func (s *OandaSession) Subscriptions() []market.Symbol {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	symbols := make([]market.Symbol, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	return symbols
}

// Disconnect cancels any pending reconnect and closes the stream.
func (s *OandaSession) Disconnect() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.teardownLocked()
	return nil
}

// redialLocked tears down the current stream and dials a fresh one with
// the current subscription set. Callers hold s.mtx.
func (s *OandaSession) redialLocked() error {
	s.teardownLocked()

	instruments := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		instruments = append(instruments, symbolToOandaInstrument(sym))
	}

	streamURL := fmt.Sprintf(
		"%s/v3/accounts/%s/pricing/stream?instruments=%s",
		s.rest, s.accountID, strings.Join(instruments, "%2C"),
	)

	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: building stream request: %v", market.ErrTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: dialing %s stream: %v", market.ErrTransport, s.name, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: venue %s rejected credentials (%d)", market.ErrAuth, s.name, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: venue %s stream returned %d", market.ErrTransport, s.name, resp.StatusCode)
	}

	s.cancel = cancel
	go s.readLoop(ctx, resp)

	return nil
}

// retryOnFailLocked arms the delayed reconnect when a dial failed, so a
// venue that is down right now is retried rather than left dead with a
// recorded subscription set. Rejected credentials never heal on retry.
// Callers hold s.mtx; the reconnect path re-acquires it on its own
// goroutine.
func (s *OandaSession) retryOnFailLocked(err error) error {
	if err != nil && !errors.Is(err, market.ErrAuth) {
		go s.scheduleReconnect()
	}
	return err
}

// teardownLocked cancels the in-flight stream, if any. Callers hold s.mtx.
func (s *OandaSession) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *OandaSession) readLoop(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		s.lineReceived(line)
	}

	// A redial or Disconnect cancels the stream context itself; arming
	// the reconnect here would tear down the replacement stream.
	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("pricing stream interrupted")
	}
	s.scheduleReconnect()
}

func (s *OandaSession) lineReceived(line []byte) {
	var record OandaPriceRecord
	if err := json.Unmarshal(line, &record); err != nil {
		// Heartbeat lines that fail to parse are dropped quietly; they
		// carry no price data.
		if bytes.Contains(line, []byte("HEARTBEAT")) {
			return
		}
		s.logger.Warn().Err(err).Msg("failed to decode stream line")
		return
	}

	switch record.Type {
	case "HEARTBEAT":
		telemetry.VenueMessage(s.name, telemetry.MessageTypeHeartbeat)
		return
	case "PRICE":
	default:
		return
	}

	if record.Instrument == "" {
		s.logger.Warn().Msg("price record missing instrument")
		return
	}
	symbol, err := market.Canonicalize(record.Instrument)
	if err != nil {
		s.logger.Warn().Err(err).Str("instrument", record.Instrument).Msg("unparseable instrument")
		return
	}
	if len(record.Bids) == 0 || len(record.Asks) == 0 {
		s.logger.Warn().Str("instrument", record.Instrument).Msg("price record missing book sides")
		return
	}

	bid, err := strconv.ParseFloat(record.Bids[0].Price, 64)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse bid")
		return
	}
	ask, err := strconv.ParseFloat(record.Asks[0].Price, 64)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse ask")
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, record.Time)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse price time")
		return
	}

	telemetry.VenueMessage(s.name, telemetry.MessageTypeTick)
	s.out <- TickEvent{
		Venue:    s.name,
		ClientID: s.clientID,
		Symbol:   symbol,
		Time:     float64(ts.UnixNano()) / float64(time.Second),
		Bid:      bid,
		Ask:      ask,
	}
}

// scheduleReconnect arms a single delayed redial while subscriptions
// remain; Disconnect wins over a pending attempt.
func (s *OandaSession) scheduleReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed || len(s.subs) == 0 {
		s.reconnecting.Store(false)
		return
	}
	s.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		s.reconnecting.Store(false)
		telemetry.VenueReconnect(s.name)

		s.mtx.Lock()
		defer s.mtx.Unlock()
		if s.closed || len(s.subs) == 0 {
			return
		}
		s.logger.Info().Msg("reconnecting pricing stream")
		if err := s.retryOnFailLocked(s.redialLocked()); err != nil {
			s.logger.Warn().Err(err).Msg("reconnect failed")
		}
	})
}

// symbolToOandaInstrument returns the venue instrument form,
// ex. "EURUSD" -> "EUR_USD".
func symbolToOandaInstrument(sym market.Symbol) string {
	s := sym.String()
	if len(s) == 6 {
		return s[:3] + "_" + s[3:]
	}
	return s
}
