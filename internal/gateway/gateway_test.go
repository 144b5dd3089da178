package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"calhub/internal/core"
	"calhub/internal/dispatch"
	"calhub/internal/reconcile"
	"calhub/internal/session"
	"calhub/internal/store"
)

type fakeAdapter struct {
	provider core.Provider
	events   []core.Event
	err      error
}

func (f *fakeAdapter) Provider() core.Provider { return f.provider }
func (f *fakeAdapter) FetchEvents(_ context.Context, _ core.Query) ([]core.Event, error) {
	return f.events, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testHub spins up a gateway over httptest and returns it with a session
// token already minted for u1.
func testHub(t *testing.T, adapters ...core.Adapter) (*Gateway, *httptest.Server, string) {
	t.Helper()

	sessions := session.NewStore(time.Hour)
	token, err := sessions.Create("u1", "u1@example.com")
	if err != nil {
		t.Fatalf("mint session: %v", err)
	}

	gw := New(sessions, reconcile.New(store.NewMemoryStore()), dispatch.NewRegistry(adapters...), nil, discardLogger())
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})
	return gw, srv, token
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func sendSubscribe(t *testing.T, conn *websocket.Conn, event string, req core.SubscriptionRequest) {
	t.Helper()
	data, _ := json.Marshal(req)
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestHandshakeRejectsInvalidSession(t *testing.T) {
	_, srv, _ := testHub(t, &fakeAdapter{provider: core.ProviderLocal})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without a session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestSubscribeReturnsSnapshot(t *testing.T) {
	events := []core.Event{
		{ID: "e1", CalendarID: "cal1", Title: "Standup"},
		{ID: "e2", CalendarID: "cal1", Title: "Review"},
	}
	_, srv, token := testHub(t, &fakeAdapter{provider: core.ProviderLocal, events: events})
	conn := dial(t, srv, token)

	sendSubscribe(t, conn, "localEvents", core.SubscriptionRequest{
		CalendarID: "cal1",
		FromDate:   strPtr("2024-09-15"),
		ToDate:     strPtr("2024-10-01"),
	})

	env := readEnvelope(t, conn)
	if env.Event != "localResponse" {
		t.Fatalf("event = %q, want localResponse", env.Event)
	}
	var payload EventPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Message != "Local Events" {
		t.Errorf("message = %q", payload.Message)
	}
	if len(payload.Data) != 2 {
		t.Fatalf("events = %d, want 2", len(payload.Data))
	}
}

func TestSubscribeEmptyResultIsEmptyArray(t *testing.T) {
	_, srv, token := testHub(t, &fakeAdapter{provider: core.ProviderGoogle})
	conn := dial(t, srv, token)

	sendSubscribe(t, conn, "googleEvents", core.SubscriptionRequest{CalendarID: "cal1"})

	env := readEnvelope(t, conn)
	if env.Event != "googleResponse" {
		t.Fatalf("event = %q, want googleResponse", env.Event)
	}
	// data must be [] on the wire, never null.
	if !strings.Contains(string(env.Data), `"data":[]`) {
		t.Fatalf("payload = %s, want an empty array", env.Data)
	}
}

func TestSubscribeFailureSendsErrorAndKeepsConnection(t *testing.T) {
	_, srv, token := testHub(t,
		&fakeAdapter{provider: core.ProviderOutlook, err: errors.New("graph timeout")},
		&fakeAdapter{provider: core.ProviderLocal, events: []core.Event{{ID: "e1"}}},
	)
	conn := dial(t, srv, token)

	sendSubscribe(t, conn, "outlookEvents", core.SubscriptionRequest{CalendarID: "default"})

	env := readEnvelope(t, conn)
	if env.Event != "error" {
		t.Fatalf("event = %q, want error", env.Event)
	}
	var payload ErrorPayload
	json.Unmarshal(env.Data, &payload)
	if payload.Message != "Error fetching outlook events." {
		t.Errorf("message = %q", payload.Message)
	}
	if strings.Contains(payload.Message, "graph timeout") {
		t.Error("internal error detail leaked to the client")
	}

	// The same connection still serves subsequent events.
	sendSubscribe(t, conn, "localEvents", core.SubscriptionRequest{CalendarID: "cal1"})
	env = readEnvelope(t, conn)
	if env.Event != "localResponse" {
		t.Fatalf("connection unusable after error, got %q", env.Event)
	}
}

func TestSubscribeValidationErrorReachesClient(t *testing.T) {
	_, srv, token := testHub(t, &fakeAdapter{provider: core.ProviderLocal})
	conn := dial(t, srv, token)

	sendSubscribe(t, conn, "localEvents", core.SubscriptionRequest{})

	env := readEnvelope(t, conn)
	if env.Event != "error" {
		t.Fatalf("event = %q, want error", env.Event)
	}
	var payload ErrorPayload
	json.Unmarshal(env.Data, &payload)
	if !strings.Contains(payload.Message, "calendarId") {
		t.Errorf("validation message should name the field, got %q", payload.Message)
	}
}

func TestUnknownEventGetsErrorEnvelope(t *testing.T) {
	_, srv, token := testHub(t, &fakeAdapter{provider: core.ProviderLocal})
	conn := dial(t, srv, token)

	if err := conn.WriteJSON(Envelope{Event: "mysteryEvents"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Event != "error" {
		t.Fatalf("event = %q, want error", env.Event)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	gw, srv, token := testHub(t, &fakeAdapter{provider: core.ProviderLocal})

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, srv, token)
	}

	// dial returns after the handshake; registration happens in ServeHTTP
	// before the pumps start, but give the server a moment to finish.
	deadline := time.Now().Add(2 * time.Second)
	for gw.ClientCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := gw.ClientCount(); got != 3 {
		t.Fatalf("client count = %d, want 3", got)
	}

	gw.Broadcast("localEventUpdated", EventPayload{
		Message: "Local Events",
		Data:    []core.Event{{ID: "e1", Title: "Moved"}},
	})

	for i, conn := range conns {
		env := readEnvelope(t, conn)
		if env.Event != "localEventUpdated" {
			t.Fatalf("client %d got %q, want localEventUpdated", i, env.Event)
		}
	}
}

func TestShutdownClosesClients(t *testing.T) {
	gw, srv, token := testHub(t, &fakeAdapter{provider: core.ProviderLocal})
	conn := dial(t, srv, token)

	gw.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("read succeeded after shutdown")
	}
	if gw.ClientCount() != 0 {
		t.Fatalf("client count = %d after shutdown", gw.ClientCount())
	}
}
