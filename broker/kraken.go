package broker

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/telemetry"
)

const krakenWSPath = "/"

var _ Session = (*KrakenSession)(nil)

type (
	// KrakenSession streams top-of-book spreads from the Kraken public
	// websocket. Subscriptions are JSON control messages; quote payloads
	// arrive as positional arrays and are decoded field-by-field.
	//
	// REF: https://docs.kraken.com/websockets/#message-spread
	KrakenSession struct {
		name     string
		clientID string
		logger   zerolog.Logger
		out      chan<- TickEvent
		conn     *wsConn

		mtx  sync.RWMutex
		subs map[market.Symbol]struct{}
	}

	// KrakenSubscriptionMsg is the subscribe/unsubscribe control message.
	KrakenSubscriptionMsg struct {
		Event        string             `json:"event"` // subscribe | unsubscribe
		Pair         []string           `json:"pair"`
		Subscription KrakenSubscription `json:"subscription"`
	}

	// KrakenSubscription names the channel being (un)subscribed.
	KrakenSubscription struct {
		Name string `json:"name"` // ex.: spread
	}

	// KrakenEvent is the shape of non-data control frames.
	KrakenEvent struct {
		Event  string `json:"event"` // heartbeat | systemStatus | subscriptionStatus
		Status string `json:"status"`
		Pair   string `json:"pair"`
	}
)

// NewKrakenSession creates a new KrakenSession.
func NewKrakenSession(
	logger zerolog.Logger,
	cfg config.Venue,
	out chan<- TickEvent,
	clientID string,
) (*KrakenSession, error) {
	if cfg.Websocket == "" {
		return nil, fmt.Errorf("venue %q has no websocket endpoint", cfg.Name)
	}

	wsURL := url.URL{
		Scheme: "wss",
		Host:   cfg.Websocket,
		Path:   krakenWSPath,
	}

	sessionLogger := logger.With().Str("venue", cfg.Name).Logger()

	s := &KrakenSession{
		name:     cfg.Name,
		clientID: clientID,
		logger:   sessionLogger,
		out:      out,
		subs:     map[market.Symbol]struct{}{},
	}
	s.conn = newWSConn(
		cfg.Name,
		wsURL,
		s.messageReceived,
		s.subscriptionMsgs,
		s.hasSubscriptions,
		sessionLogger,
	)

	return s, nil
}

func (s *KrakenSession) Name() string { return s.name }

func (s *KrakenSession) Connect() error {
	return s.conn.connect()
}

func (s *KrakenSession) Subscribe(symbols ...market.Symbol) error {
	pairs := s.addSubscriptions(symbols...)
	if len(pairs) == 0 || !s.conn.connected() {
		return nil
	}
	return s.conn.send(newKrakenSubscriptionMsg("subscribe", pairs))
}

func (s *KrakenSession) Unsubscribe(symbols ...market.Symbol) error {
	pairs := make([]string, 0, len(symbols))

	s.mtx.Lock()
	for _, sym := range symbols {
		if _, ok := s.subs[sym]; ok {
			delete(s.subs, sym)
			pairs = append(pairs, symbolToKrakenPair(sym))
		}
	}
	s.mtx.Unlock()

	if len(pairs) == 0 || !s.conn.connected() {
		return nil
	}
	return s.conn.send(newKrakenSubscriptionMsg("unsubscribe", pairs))
}

// Connected reports whether the websocket link is live.
func (s *KrakenSession) Connected() bool {
	return s.conn.connected()
}

func (s *KrakenSession) Subscriptions() []market.Symbol {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	symbols := make([]market.Symbol, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	return symbols
}

func (s *KrakenSession) Disconnect() error {
	s.conn.close()
	return nil
}

// addSubscriptions records new symbols and returns their venue pair
// forms, skipping symbols already subscribed.
func (s *KrakenSession) addSubscriptions(symbols ...market.Symbol) []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	pairs := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := s.subs[sym]; ok {
			continue
		}
		s.subs[sym] = struct{}{}
		pairs = append(pairs, symbolToKrakenPair(sym))
	}
	return pairs
}

// subscriptionMsgs returns the control messages replayed after a redial.
func (s *KrakenSession) subscriptionMsgs() []interface{} {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if len(s.subs) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		pairs = append(pairs, symbolToKrakenPair(sym))
	}
	return []interface{}{newKrakenSubscriptionMsg("subscribe", pairs)}
}

func (s *KrakenSession) hasSubscriptions() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.subs) > 0
}

func (s *KrakenSession) messageReceived(bz []byte) {
	// Control frames are JSON objects; quote payloads are arrays.
	if len(bz) > 0 && bz[0] == '{' {
		var event KrakenEvent
		if err := json.Unmarshal(bz, &event); err != nil {
			s.logger.Warn().Err(err).Msg("failed to decode control frame")
			return
		}
		switch event.Event {
		case "heartbeat":
			telemetry.VenueMessage(s.name, telemetry.MessageTypeHeartbeat)
		case "subscriptionStatus":
			if event.Status == "error" {
				s.logger.Warn().Str("pair", event.Pair).Msg("subscription rejected")
			}
		}
		return
	}

	tick, ok := s.parseSpread(bz)
	if !ok {
		return
	}

	telemetry.VenueMessage(s.name, telemetry.MessageTypeTick)
	s.out <- tick
}

// parseSpread decodes a spread payload of the form
// [channelID, [bid, ask, timestamp, bidVol, askVol], "spread", "EUR/USD"].
func (s *KrakenSession) parseSpread(bz []byte) (TickEvent, bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(bz, &frame); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode data frame")
		return TickEvent{}, false
	}
	if len(frame) < 4 {
		s.logger.Warn().Int("fields", len(frame)).Msg("short data frame")
		return TickEvent{}, false
	}

	var channel string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "spread" {
		return TickEvent{}, false
	}

	var pair string
	if err := json.Unmarshal(frame[3], &pair); err != nil || pair == "" {
		s.logger.Warn().Msg("spread message missing instrument")
		return TickEvent{}, false
	}
	symbol, err := market.Canonicalize(pair)
	if err != nil {
		s.logger.Warn().Err(err).Str("pair", pair).Msg("unparseable instrument")
		return TickEvent{}, false
	}

	var payload []string
	if err := json.Unmarshal(frame[1], &payload); err != nil || len(payload) < 3 {
		s.logger.Warn().Str("pair", pair).Msg("malformed spread payload")
		return TickEvent{}, false
	}

	bid, err := strconv.ParseFloat(payload[0], 64)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse bid")
		return TickEvent{}, false
	}
	ask, err := strconv.ParseFloat(payload[1], 64)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse ask")
		return TickEvent{}, false
	}
	ts, err := strconv.ParseFloat(payload[2], 64)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse timestamp")
		return TickEvent{}, false
	}

	return TickEvent{
		Venue:    s.name,
		ClientID: s.clientID,
		Symbol:   symbol,
		Time:     ts,
		Bid:      bid,
		Ask:      ask,
	}, true
}

// symbolToKrakenPair returns the venue pair form, ex. "EURUSD" -> "EUR/USD".
// Longer symbols pass through unseparated; Kraken accepts both forms.
func symbolToKrakenPair(sym market.Symbol) string {
	s := sym.String()
	if len(s) == 6 {
		return s[:3] + "/" + s[3:]
	}
	return s
}

// newKrakenSubscriptionMsg returns a new subscription control message
// for the spread channel.
func newKrakenSubscriptionMsg(event string, pairs []string) KrakenSubscriptionMsg {
	return KrakenSubscriptionMsg{
		Event:        event,
		Pair:         pairs,
		Subscription: KrakenSubscription{Name: "spread"},
	}
}
