package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"calhub/internal/core"
)

type tripleKey struct {
	provider   core.Provider
	calendarID string
	userID     string
}

// MemoryStore is an in-process Store. The mutex serializes upserts per
// process, which is enough to keep the one-record-per-triple invariant.
// Used by tests and as a no-persistence mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[tripleKey]core.SubscriptionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[tripleKey]core.SubscriptionRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, provider core.Provider, calendarID, userID string, fields core.SubscriptionFields) (core.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey{provider, calendarID, userID}
	rec, ok := s.records[key]
	if !ok {
		rec = core.SubscriptionRecord{
			ID:         uuid.NewString(),
			Provider:   provider,
			CalendarID: calendarID,
			UserID:     userID,
		}
	}
	rec.OwnerEmail = fields.OwnerEmail
	if fields.FromDate != nil {
		rec.FromDate = *fields.FromDate
	}
	if fields.ToDate != nil {
		rec.ToDate = *fields.ToDate
	}
	if fields.Participant != nil {
		rec.Participant = *fields.Participant
	}
	s.records[key] = rec
	return rec, nil
}

func (s *MemoryStore) ListByUserAndProvider(_ context.Context, userID string, provider core.Provider) ([]core.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []core.SubscriptionRecord
	for key, rec := range s.records {
		if key.userID == userID && key.provider == provider {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *MemoryStore) Subscribers(_ context.Context, provider core.Provider) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var users []string
	for key := range s.records {
		if key.provider != provider {
			continue
		}
		if _, ok := seen[key.userID]; ok {
			continue
		}
		seen[key.userID] = struct{}{}
		users = append(users, key.userID)
	}
	return users, nil
}
