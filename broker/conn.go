package broker

import (
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/telemetry"
)

// wsConn owns one framed websocket transport for a session: dialing,
// the read loop, the keepalive ping loop, and bounded reconnection.
// Subscription state stays in the session; the conn asks for the current
// control messages after every (re)dial so the set survives teardown.
type wsConn struct {
	venue  string
	url    url.URL
	logger zerolog.Logger

	// handler receives every inbound frame.
	handler func([]byte)

	// subscriptionMsgs returns the control messages to send after a
	// successful dial.
	subscriptionMsgs func() []interface{}

	// shouldReconnect gates automatic redial; sessions return false
	// once their subscription set is empty.
	shouldReconnect func() bool

	mtx            sync.Mutex
	link           *wsLink
	closed         bool
	reconnectTimer *time.Timer

	// reconnecting prevents overlapping reconnect attempts.
	reconnecting atomic.Bool
}

// wsLink is one live websocket connection plus its stop signal; replaced
// wholesale on reconnect so stale ping/read loops exit cleanly.
type wsLink struct {
	conn *websocket.Conn
	done chan struct{}

	writeMtx sync.Mutex
	stopOnce sync.Once
}

func newWSConn(
	venue string,
	wsURL url.URL,
	handler func([]byte),
	subscriptionMsgs func() []interface{},
	shouldReconnect func() bool,
	logger zerolog.Logger,
) *wsConn {
	return &wsConn{
		venue:            venue,
		url:              wsURL,
		logger:           logger,
		handler:          handler,
		subscriptionMsgs: subscriptionMsgs,
		shouldReconnect:  shouldReconnect,
	}
}

// connect dials the venue, replays the subscription messages, and starts
// the read and ping loops.
func (c *wsConn) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url.String(), nil)
	if err != nil {
		// A venue that is down at startup must keep retrying; without
		// this the read loop never runs and nothing else would arm the
		// redial.
		c.scheduleRetry()
		return fmt.Errorf("%w: dialing %s websocket: %v", market.ErrTransport, c.venue, err)
	}

	link := &wsLink{conn: conn, done: make(chan struct{})}

	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		conn.Close()
		return nil
	}
	old := c.link
	c.link = link
	c.mtx.Unlock()

	if old != nil {
		old.stop()
	}

	for _, msg := range c.subscriptionMsgs() {
		if err := link.writeJSON(msg); err != nil {
			c.logger.Err(err).Msg("failed to send subscription message")
		}
	}

	go c.readLoop(link)
	go c.pingLoop(link)

	return nil
}

// send writes a control message on the current connection.
func (c *wsConn) send(msg interface{}) error {
	c.mtx.Lock()
	link := c.link
	c.mtx.Unlock()

	if link == nil {
		return fmt.Errorf("%w: %s websocket is not connected", market.ErrTransport, c.venue)
	}
	return link.writeJSON(msg)
}

// connected reports whether a live link exists.
func (c *wsConn) connected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.link != nil && !c.closed
}

// close tears down the transport and cancels any pending reconnect.
// Idempotent; a closed conn never redials.
func (c *wsConn) close() {
	c.mtx.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	link := c.link
	c.link = nil
	c.mtx.Unlock()

	if link != nil {
		link.stop()
	}
}

func (c *wsConn) readLoop(link *wsLink) {
	for {
		_, bz, err := link.conn.ReadMessage()
		if err != nil {
			select {
			case <-link.done:
				// deliberate teardown
			default:
				c.logger.Warn().Err(err).Msg("websocket read failed")
				link.stop()
				c.scheduleReconnect()
			}
			return
		}
		c.handler(bz)
	}
}

func (c *wsConn) pingLoop(link *wsLink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-link.done:
			return
		case <-ticker.C:
			link.writeMtx.Lock()
			err := link.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			link.writeMtx.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Msg("websocket ping failed")
			}
		}
	}
}

// scheduleReconnect arms a single delayed redial after a dropped link.
// A session whose subscription set emptied lets the link stay down.
func (c *wsConn) scheduleReconnect() {
	if !c.shouldReconnect() {
		return
	}
	c.scheduleRetry()
}

// scheduleRetry arms the delayed redial unconditionally. Disconnect wins
// over a pending attempt; overlapping attempts are suppressed. A failed
// dial inside the timer re-arms through connect itself.
func (c *wsConn) scheduleRetry() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		c.reconnecting.Store(false)
		return
	}
	c.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		c.reconnecting.Store(false)
		telemetry.VenueReconnect(c.venue)
		c.logger.Info().Msg("reconnecting websocket")
		if err := c.connect(); err != nil {
			c.logger.Warn().Err(err).Msg("reconnect failed")
		}
	})
	c.mtx.Unlock()
}

func (l *wsLink) writeJSON(msg interface{}) error {
	l.writeMtx.Lock()
	defer l.writeMtx.Unlock()
	return l.conn.WriteJSON(msg)
}

func (l *wsLink) stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}
