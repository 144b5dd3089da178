// Package reconcile folds subscription requests into canonical records:
// one stored record per (provider, calendarId, userId) triple, updated in
// place on re-subscription.
package reconcile

import (
	"context"

	"calhub/internal/core"
	"calhub/internal/store"
)

// Reconciler finds-or-creates the canonical SubscriptionRecord for a request.
// It has no side effects beyond the store write and is idempotent under retry.
type Reconciler struct {
	store store.Store
}

func New(s store.Store) *Reconciler {
	return &Reconciler{store: s}
}

// Reconcile validates the request, builds the provider-specific field set and
// delegates to the store's atomic upsert. The participant flag is only
// meaningful for the Local provider; for Google and Outlook it is never part
// of the written fields, so those records keep the default false.
func (r *Reconciler) Reconcile(ctx context.Context, provider core.Provider, req core.SubscriptionRequest, identity core.Identity) (core.SubscriptionRecord, error) {
	if err := req.Validate(); err != nil {
		return core.SubscriptionRecord{}, err
	}

	fields := core.SubscriptionFields{
		OwnerEmail: identity.Email,
		FromDate:   req.FromDate,
		ToDate:     req.ToDate,
	}
	if provider == core.ProviderLocal {
		fields.Participant = req.Participant
	}

	return r.store.Upsert(ctx, provider, req.CalendarID, identity.UserID, fields)
}
