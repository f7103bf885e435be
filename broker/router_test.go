package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/broker"
	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
)

func mockVenue(name string) config.Venue {
	return config.Venue{Name: name, Kind: config.VenueKindMock}
}

func startRouter(t *testing.T) (*broker.Router, context.CancelFunc) {
	t.Helper()
	router := broker.NewRouter(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	router.Start(ctx)
	return router, cancel
}

func awaitTick(t *testing.T, router *broker.Router) broker.TickEvent {
	t.Helper()
	select {
	case event := <-router.Ticks():
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a tick")
		return broker.TickEvent{}
	}
}

func TestRouterSubscribeAndReceive(t *testing.T) {
	router, cancel := startRouter(t)
	defer cancel()

	require.NoError(t, router.AddVenue(mockVenue("mock")))
	require.NoError(t, router.Subscribe("mock", "", "EURUSD"))

	event := awaitTick(t, router)
	require.Equal(t, "mock", event.Venue)
	require.Equal(t, market.Symbol("EURUSD"), event.Symbol)
	require.Empty(t, event.ClientID)
	require.True(t, event.Tick().Valid())

	stats := router.Stats()
	require.Equal(t, map[string]int{"mock": 1}, stats["venues"])

	require.NoError(t, router.Unsubscribe("mock", "", "EURUSD"))
	require.NoError(t, router.DisconnectAll())
}

func TestRouterHeuristicFallsBackToConnectedVenue(t *testing.T) {
	router, cancel := startRouter(t)
	defer cancel()

	require.NoError(t, router.AddVenue(mockVenue("mock")))

	// No stream venue exists for the forex symbol; the connected mock is
	// used instead.
	require.NoError(t, router.Subscribe("", "", "EURUSD"))
	require.Equal(t, 1, router.Stats()["routed_symbols"])

	event := awaitTick(t, router)
	require.Equal(t, market.Symbol("EURUSD"), event.Symbol)
}

func TestRouterHeuristicSkipsDisconnectedVenue(t *testing.T) {
	router, cancel := startRouter(t)
	defer cancel()

	// The venue's endpoint is unreachable, so AddVenue keeps the session
	// but it reports disconnected until its redial succeeds.
	require.NoError(t, router.AddVenue(config.Venue{
		Name:      "down",
		Kind:      config.VenueKindWebsocket,
		Websocket: "127.0.0.1:1",
	}))
	require.Error(t, router.Subscribe("", "", "EURUSD"))

	require.NoError(t, router.AddVenue(mockVenue("mock")))
	require.NoError(t, router.Subscribe("", "", "EURUSD"))

	event := awaitTick(t, router)
	require.Equal(t, "mock", event.Venue)
	require.NoError(t, router.DisconnectAll())
}

func TestRouterSubscribeWithoutVenues(t *testing.T) {
	router, cancel := startRouter(t)
	defer cancel()

	require.Error(t, router.Subscribe("", "", "EURUSD"))
}

func TestRouterRejectsDuplicateVenue(t *testing.T) {
	router, cancel := startRouter(t)
	defer cancel()

	require.NoError(t, router.AddVenue(mockVenue("mock")))
	require.Error(t, router.AddVenue(mockVenue("mock")))
}

func TestRouterClientVenueTagsTicks(t *testing.T) {
	router, cancel := startRouter(t)
	defer cancel()

	require.NoError(t, router.AddClientVenue("alice", mockVenue("mock")))
	require.NoError(t, router.Subscribe("mock", "alice", "GBPUSD"))

	event := awaitTick(t, router)
	require.Equal(t, "alice", event.ClientID)
	require.Equal(t, market.Symbol("GBPUSD"), event.Symbol)
}

func TestRouterStoppedAfterCancel(t *testing.T) {
	router, cancel := startRouter(t)
	require.NoError(t, router.AddVenue(mockVenue("mock")))
	cancel()

	require.Eventually(t, func() bool {
		return router.Subscribe("mock", "", "EURUSD") == broker.ErrRouterStopped
	}, 2*time.Second, 10*time.Millisecond)
}
