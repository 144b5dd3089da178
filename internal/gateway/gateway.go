// Package gateway is the hub's socket layer: it upgrades authenticated
// clients to a persistent connection, routes their subscribe events through
// the reconcile → fetch pipeline, and fans broadcast updates out to every
// connected client.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"calhub/internal/core"
	"calhub/internal/dispatch"
	"calhub/internal/reconcile"
	"calhub/internal/session"
)

// Gateway owns the live connection set. It is created at startup, handed to
// whoever needs to broadcast, and torn down with Shutdown; there is no
// package-level instance.
type Gateway struct {
	sessions   session.Source
	reconciler *reconcile.Reconciler
	registry   *dispatch.Registry
	upgrader   websocket.Upgrader
	log        *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// New builds a gateway. allowedOrigins is the cross-origin allow-list for the
// handshake; requests without an Origin header (non-browser clients) are
// always admitted, and an empty list falls back to same-host only.
func New(sessions session.Source, r *reconcile.Reconciler, reg *dispatch.Registry, allowedOrigins []string, log *slog.Logger) *Gateway {
	g := &Gateway{
		sessions:   sessions,
		reconciler: r,
		registry:   reg,
		log:        log,
		clients:    make(map[*Client]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = struct{}{}
		}
		g.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return g
}

// ServeHTTP is the socket handshake. A connection without a valid session, or
// whose session carries no user email, is rejected before it ever becomes
// active: no events are processed for it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.sessions.Lookup(session.TokenFromRequest(r))
	if !ok || sess.Email == "" {
		g.log.Info("connection rejected", "reason", "invalid session")
		http.Error(w, "valid session required", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		g.log.Warn("upgrade failed", "err", err)
		return
	}

	client := newClient(g, conn, core.Identity{UserID: sess.UserID, Email: sess.Email})
	g.register(client)
	g.log.Info("client connected", "user", sess.UserID)

	go client.writePump()
	go client.readPump()
}

func (g *Gateway) register(c *Client) {
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	_, ok := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()
	if ok {
		g.log.Info("client disconnected", "user", c.identity.UserID)
	}
}

// ClientCount reports how many connections are live.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Broadcast queues an event for every currently connected client. The client
// set is snapshotted first so connects/disconnects during the fan-out are
// safe; a write to a connection that is already gone is dropped.
func (g *Gateway) Broadcast(event string, payload any) {
	env, err := newEnvelope(event, payload)
	if err != nil {
		g.log.Error("broadcast encode failed", "event", event, "err", err)
		return
	}

	g.mu.RLock()
	snapshot := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		snapshot = append(snapshot, c)
	}
	g.mu.RUnlock()

	for _, c := range snapshot {
		c.enqueue(env)
	}
}

// Shutdown closes every live connection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	snapshot := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		snapshot = append(snapshot, c)
	}
	g.clients = make(map[*Client]struct{})
	g.mu.Unlock()

	for _, c := range snapshot {
		c.close()
	}
}

// handleSubscribe runs the per-event pipeline: reconcile the canonical record,
// fetch from the provider, answer the originating client. Every failure turns
// into an error envelope on that client; the connection itself stays up.
func (g *Gateway) handleSubscribe(ctx context.Context, c *Client, d dispatch.Descriptor, req core.SubscriptionRequest) {
	rec, err := g.reconciler.Reconcile(ctx, d.Provider, req, c.identity)
	if err != nil {
		g.log.Error("reconcile failed", "provider", d.Provider, "user", c.identity.UserID, "err", err)
		c.sendError(userMessage(d, err))
		return
	}

	events, err := g.registry.Fetch(ctx, rec)
	if err != nil {
		g.log.Error("fetch failed", "provider", d.Provider, "user", c.identity.UserID,
			"calendar", rec.CalendarID, "err", err)
		c.sendError(userMessage(d, err))
		return
	}

	if events == nil {
		events = []core.Event{}
	}
	c.send(d.ResponseEvent, EventPayload{Message: d.Message, Data: events})
}

// userMessage maps an internal failure to the human-readable error the
// client sees. Validation problems carry their own wording; everything else
// collapses into a generic per-provider message, with the detail kept in the
// server log.
func userMessage(d dispatch.Descriptor, err error) string {
	var invalid *core.InvalidRequestError
	if errors.As(err, &invalid) {
		return invalid.Error()
	}
	return fmt.Sprintf("Error fetching %s events.", d.Provider)
}
