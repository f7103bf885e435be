package broker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
)

func newTestKrakenSession(t *testing.T, out chan TickEvent) *KrakenSession {
	t.Helper()
	s, err := NewKrakenSession(zerolog.Nop(), config.Venue{
		Name:      "kraken",
		Kind:      config.VenueKindWebsocket,
		Websocket: "ws.kraken.com",
	}, out, "")
	require.NoError(t, err)
	return s
}

func TestKrakenMessageReceivedSpread(t *testing.T) {
	out := make(chan TickEvent, 1)
	s := newTestKrakenSession(t, out)

	s.messageReceived([]byte(`[42,["1.10010","1.10030","1704067210.123456","1.2","3.4"],"spread","EUR/USD"]`))

	require.Len(t, out, 1)
	event := <-out
	require.Equal(t, "kraken", event.Venue)
	require.Equal(t, market.Symbol("EURUSD"), event.Symbol)
	require.InDelta(t, 1.1001, event.Bid, 1e-9)
	require.InDelta(t, 1.1003, event.Ask, 1e-9)
	require.InDelta(t, 1704067210.123456, event.Time, 1e-6)
	require.True(t, event.Tick().Valid())
}

func TestKrakenMessageReceivedIgnoresNonSpread(t *testing.T) {
	out := make(chan TickEvent, 1)
	s := newTestKrakenSession(t, out)

	testCases := map[string]string{
		"heartbeat":           `{"event":"heartbeat"}`,
		"system status":       `{"event":"systemStatus","status":"online"}`,
		"subscription error":  `{"event":"subscriptionStatus","status":"error","pair":"EUR/USD"}`,
		"ticker channel":      `[42,["1.1","1.2"],"ticker","EUR/USD"]`,
		"short frame":         `[42,["1.1"]]`,
		"missing pair":        `[42,["1.10010","1.10030","1704067210.1"],"spread",""]`,
		"malformed payload":   `[42,"oops","spread","EUR/USD"]`,
		"unparseable bid":     `[42,["x","1.10030","1704067210.1"],"spread","EUR/USD"]`,
		"not json":            `garbage`,
		"digits in pair name": `[42,["1.1","1.2","1704067210.1"],"spread","EUR/USD.d1"]`,
	}

	for name, frame := range testCases {
		t.Run(name, func(t *testing.T) {
			s.messageReceived([]byte(frame))
			require.Empty(t, out)
		})
	}
}

func TestKrakenSubscriptionBookkeeping(t *testing.T) {
	out := make(chan TickEvent, 1)
	s := newTestKrakenSession(t, out)

	// Not connected, so Subscribe only records the set.
	require.NoError(t, s.Subscribe("EURUSD", "GBPUSD"))
	require.ElementsMatch(t, []market.Symbol{"EURUSD", "GBPUSD"}, s.Subscriptions())

	// Re-subscribing an existing symbol is a no-op.
	require.NoError(t, s.Subscribe("EURUSD"))
	require.Len(t, s.Subscriptions(), 2)

	require.NoError(t, s.Unsubscribe("EURUSD"))
	require.ElementsMatch(t, []market.Symbol{"GBPUSD"}, s.Subscriptions())

	msgs := s.subscriptionMsgs()
	require.Len(t, msgs, 1)
	sub, ok := msgs[0].(KrakenSubscriptionMsg)
	require.True(t, ok)
	require.Equal(t, "subscribe", sub.Event)
	require.Equal(t, []string{"GBP/USD"}, sub.Pair)
	require.Equal(t, "spread", sub.Subscription.Name)
}

func TestSymbolToKrakenPair(t *testing.T) {
	require.Equal(t, "EUR/USD", symbolToKrakenPair("EURUSD"))
	require.Equal(t, "XAUUSDT", symbolToKrakenPair("XAUUSDT"))
}
