package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"calhub/internal/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	// Outbound queue depth per client; a client that cannot drain it loses
	// events rather than blocking the rest of the hub.
	sendQueueSize = 32
)

// Envelope is the wire frame in both directions:
// {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventPayload carries fetched events on response and update envelopes.
type EventPayload struct {
	Message string       `json:"message"`
	Data    []core.Event `json:"data"`
}

// ErrorPayload is the generic failure envelope, unicast to the requester.
type ErrorPayload struct {
	Message string `json:"message"`
}

func newEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Client is one live connection: the authenticated identity plus the
// outbound queue. It exists only while the socket is open; subscription
// records persist independently of it.
type Client struct {
	gw       *Gateway
	conn     *websocket.Conn
	identity core.Identity

	out       chan Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(g *Gateway, conn *websocket.Conn, identity core.Identity) *Client {
	return &Client{
		gw:       g,
		conn:     conn,
		identity: identity,
		out:      make(chan Envelope, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// close tears the connection down once; pending pipeline work for it keeps
// running, its eventual emit is simply dropped.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	c.gw.unregister(c)
}

// enqueue queues an envelope for delivery, dropping it if the connection is
// gone or the client is too slow to drain its queue.
func (c *Client) enqueue(env Envelope) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- env:
	default:
		c.gw.log.Warn("dropping event for slow client", "user", c.identity.UserID, "event", env.Event)
	}
}

func (c *Client) send(event string, payload any) {
	env, err := newEnvelope(event, payload)
	if err != nil {
		c.gw.log.Error("encode failed", "event", event, "err", err)
		return
	}
	c.enqueue(env)
}

func (c *Client) sendError(message string) {
	c.send("error", ErrorPayload{Message: message})
}

// readPump parses inbound envelopes and starts one pipeline goroutine per
// subscribe event. Events are deliberately handled concurrently: responses
// are not guaranteed to come back in the order requests were emitted.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.log.Warn("read failed", "user", c.identity.UserID, "err", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("invalid request: malformed message")
			continue
		}

		d, ok := c.gw.registry.ByEvent(env.Event)
		if !ok {
			c.sendError("invalid request: unknown event " + env.Event)
			continue
		}

		var req core.SubscriptionRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				c.sendError("invalid request: malformed " + env.Event + " payload")
				continue
			}
		}

		go c.gw.handleSubscribe(context.Background(), c, d, req)
	}
}

// writePump is the single writer on the connection, draining the outbound
// queue and keeping the socket alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
