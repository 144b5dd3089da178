// Package broadcast re-polls a user's stored subscriptions and pushes the
// refreshed results to every connected client.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"calhub/internal/core"
	"calhub/internal/dispatch"
	"calhub/internal/gateway"
	"calhub/internal/store"
)

// Emitter is the slice of the gateway the broadcaster needs.
type Emitter interface {
	Broadcast(event string, payload any)
	ClientCount() int
}

// Broadcaster loads all SubscriptionRecords for a (user, provider) pair,
// re-fetches each concurrently and emits the flattened result.
type Broadcaster struct {
	store    store.Store
	registry *dispatch.Registry
	emitter  Emitter
	log      *slog.Logger
}

func New(s store.Store, reg *dispatch.Registry, e Emitter, log *slog.Logger) *Broadcaster {
	return &Broadcaster{store: s, registry: reg, emitter: e, log: log}
}

// Broadcast refreshes every record the user holds for the provider and, when
// the flattened result is non-empty, emits the provider's update event to all
// connected clients — deliberately unscoped to the triggering user. Zero live
// connections or zero matching records make the call a no-op. One record's
// fetch failure is logged and excluded; it never aborts the others.
func (b *Broadcaster) Broadcast(ctx context.Context, userID string, provider core.Provider) error {
	d, ok := b.registry.ByProvider(provider)
	if !ok {
		b.log.Debug("broadcast skipped", "provider", provider, "reason", "no adapter configured")
		return nil
	}

	if b.emitter.ClientCount() == 0 {
		return nil
	}

	records, err := b.store.ListByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	results := make([][]core.Event, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec core.SubscriptionRecord) {
			defer wg.Done()
			events, err := b.registry.Fetch(ctx, rec)
			if err != nil {
				b.log.Error("broadcast fetch failed", "provider", provider,
					"user", userID, "calendar", rec.CalendarID, "err", err)
				return
			}
			results[i] = events
		}(i, rec)
	}
	wg.Wait()

	var flattened []core.Event
	for _, events := range results {
		flattened = append(flattened, events...)
	}
	if len(flattened) == 0 {
		return nil
	}

	b.emitter.Broadcast(d.UpdateEvent, gateway.EventPayload{Message: d.Message, Data: flattened})
	b.log.Info("broadcast emitted", "provider", provider, "user", userID,
		"events", len(flattened), "clients", b.emitter.ClientCount())
	return nil
}
