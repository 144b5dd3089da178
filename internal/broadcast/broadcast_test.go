package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"calhub/internal/core"
	"calhub/internal/dispatch"
	"calhub/internal/gateway"
	"calhub/internal/store"
)

type fakeEmitter struct {
	clients int

	mu      sync.Mutex
	emitted []emission
}

type emission struct {
	event   string
	payload any
}

func (f *fakeEmitter) Broadcast(event string, payload any) {
	f.mu.Lock()
	f.emitted = append(f.emitted, emission{event, payload})
	f.mu.Unlock()
}

func (f *fakeEmitter) ClientCount() int { return f.clients }

type fakeAdapter struct {
	provider core.Provider

	mu      sync.Mutex
	byCal   map[string][]core.Event
	failCal string
}

func (f *fakeAdapter) Provider() core.Provider { return f.provider }
func (f *fakeAdapter) FetchEvents(_ context.Context, q core.Query) ([]core.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.CalendarID == f.failCal {
		return nil, errors.New("upstream down")
	}
	return f.byCal[q.CalendarID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func seed(t *testing.T, s store.Store, provider core.Provider, userID string, calendars ...string) {
	t.Helper()
	for _, cal := range calendars {
		_, err := s.Upsert(context.Background(), provider, cal, userID, core.SubscriptionFields{
			OwnerEmail: userID + "@example.com",
			FromDate:   strPtr("2024-09-15"),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", cal, err)
		}
	}
}

func TestBroadcastFlattensAllRecords(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, core.ProviderLocal, "u1", "cal1", "cal2")

	adapter := &fakeAdapter{
		provider: core.ProviderLocal,
		byCal: map[string][]core.Event{
			"cal1": {{ID: "e1"}, {ID: "e2"}},
			"cal2": {{ID: "e3"}},
		},
	}
	emitter := &fakeEmitter{clients: 2}
	b := New(s, dispatch.NewRegistry(adapter), emitter, discardLogger())

	if err := b.Broadcast(context.Background(), "u1", core.ProviderLocal); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(emitter.emitted) != 1 {
		t.Fatalf("emissions = %d, want 1", len(emitter.emitted))
	}
	e := emitter.emitted[0]
	if e.event != "localEventUpdated" {
		t.Errorf("event = %q", e.event)
	}
	payload, ok := e.payload.(gateway.EventPayload)
	if !ok {
		t.Fatalf("payload type %T", e.payload)
	}
	if len(payload.Data) != 3 {
		t.Fatalf("flattened events = %d, want 3", len(payload.Data))
	}
	// The payload must serialize with the response shape.
	raw, _ := json.Marshal(payload)
	var decoded struct {
		Message string `json:"message"`
	}
	json.Unmarshal(raw, &decoded)
	if decoded.Message != "Local Events" {
		t.Errorf("message = %q", decoded.Message)
	}
}

func TestBroadcastNoClientsIsNoop(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, core.ProviderLocal, "u1", "cal1")

	adapter := &fakeAdapter{provider: core.ProviderLocal, byCal: map[string][]core.Event{"cal1": {{ID: "e1"}}}}
	emitter := &fakeEmitter{clients: 0}
	b := New(s, dispatch.NewRegistry(adapter), emitter, discardLogger())

	if err := b.Broadcast(context.Background(), "u1", core.ProviderLocal); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(emitter.emitted) != 0 {
		t.Fatal("emitted despite zero clients")
	}
}

func TestBroadcastNoRecordsIsNoop(t *testing.T) {
	emitter := &fakeEmitter{clients: 1}
	b := New(store.NewMemoryStore(), dispatch.NewRegistry(&fakeAdapter{provider: core.ProviderLocal}), emitter, discardLogger())

	if err := b.Broadcast(context.Background(), "u1", core.ProviderLocal); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(emitter.emitted) != 0 {
		t.Fatal("emitted despite zero records")
	}
}

func TestBroadcastIsolatesRecordFailures(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, core.ProviderLocal, "u1", "good", "bad")

	adapter := &fakeAdapter{
		provider: core.ProviderLocal,
		byCal:    map[string][]core.Event{"good": {{ID: "e1"}}},
		failCal:  "bad",
	}
	emitter := &fakeEmitter{clients: 1}
	b := New(s, dispatch.NewRegistry(adapter), emitter, discardLogger())

	if err := b.Broadcast(context.Background(), "u1", core.ProviderLocal); err != nil {
		t.Fatalf("one failing record must not fail the broadcast: %v", err)
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("emissions = %d, want 1", len(emitter.emitted))
	}
	payload := emitter.emitted[0].payload.(gateway.EventPayload)
	if len(payload.Data) != 1 || payload.Data[0].ID != "e1" {
		t.Fatalf("expected only the good record's events, got %+v", payload.Data)
	}
}

func TestBroadcastUnconfiguredProviderIsNoop(t *testing.T) {
	emitter := &fakeEmitter{clients: 1}
	b := New(store.NewMemoryStore(), dispatch.NewRegistry(), emitter, discardLogger())

	if err := b.Broadcast(context.Background(), "u1", core.ProviderGoogle); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(emitter.emitted) != 0 {
		t.Fatal("emitted for an unconfigured provider")
	}
}

func TestSweepCoversEverySubscriber(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, core.ProviderLocal, "u1", "cal1")
	seed(t, s, core.ProviderLocal, "u2", "cal2")

	adapter := &fakeAdapter{
		provider: core.ProviderLocal,
		byCal: map[string][]core.Event{
			"cal1": {{ID: "e1"}},
			"cal2": {{ID: "e2"}},
		},
	}
	registry := dispatch.NewRegistry(adapter)
	emitter := &fakeEmitter{clients: 1}
	b := New(s, registry, emitter, discardLogger())
	p := NewPoller(b, s, registry, discardLogger())

	p.Sweep(context.Background())

	if len(emitter.emitted) != 2 {
		t.Fatalf("emissions = %d, want one per subscriber", len(emitter.emitted))
	}
}
