package store

import (
	"context"

	"calhub/internal/core"
)

// Store persists SubscriptionRecord state, keyed by the
// (provider, calendarId, userId) triple.
type Store interface {
	// Upsert finds-or-creates the canonical record for the triple as one
	// atomic operation: two concurrent upserts for the same triple must
	// never produce two records. Nil fields are left untouched on update
	// and unset on create. Returns the canonical record after the write.
	Upsert(ctx context.Context, provider core.Provider, calendarID, userID string, fields core.SubscriptionFields) (core.SubscriptionRecord, error)

	// ListByUserAndProvider returns all records for the pair, order irrelevant.
	ListByUserAndProvider(ctx context.Context, userID string, provider core.Provider) ([]core.SubscriptionRecord, error)

	// Subscribers returns the distinct user ids holding at least one record
	// for the provider. Feeds the broadcast poller.
	Subscribers(ctx context.Context, provider core.Provider) ([]string, error)
}
