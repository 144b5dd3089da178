package reconcile

import (
	"context"
	"errors"
	"testing"

	"calhub/internal/core"
	"calhub/internal/store"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestReconcileRejectsInvalidRequests(t *testing.T) {
	r := New(store.NewMemoryStore())
	identity := core.Identity{UserID: "u1", Email: "u1@example.com"}

	tests := []struct {
		name string
		req  core.SubscriptionRequest
	}{
		{"empty calendar", core.SubscriptionRequest{}},
		{"bad from date", core.SubscriptionRequest{CalendarID: "cal1", FromDate: strPtr("15-09-2024")}},
		{"bad to date", core.SubscriptionRequest{CalendarID: "cal1", ToDate: strPtr("next week")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reconcile(context.Background(), core.ProviderLocal, tt.req, identity)
			var invalid *core.InvalidRequestError
			if !errors.As(err, &invalid) {
				t.Fatalf("err = %v, want InvalidRequestError", err)
			}
		})
	}
}

func TestReconcileUpsertsCanonicalRecord(t *testing.T) {
	s := store.NewMemoryStore()
	r := New(s)
	ctx := context.Background()
	identity := core.Identity{UserID: "u1", Email: "u1@example.com"}

	rec, err := r.Reconcile(ctx, core.ProviderGoogle, core.SubscriptionRequest{
		CalendarID: "cal1",
		FromDate:   strPtr("2024-09-15"),
		ToDate:     strPtr("2024-10-01"),
	}, identity)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Provider != core.ProviderGoogle || rec.CalendarID != "cal1" || rec.UserID != "u1" {
		t.Fatalf("unexpected record triple: %+v", rec)
	}
	if rec.OwnerEmail != "u1@example.com" {
		t.Errorf("ownerEmail = %q", rec.OwnerEmail)
	}

	// Same triple again: the range moves, the record does not multiply.
	again, err := r.Reconcile(ctx, core.ProviderGoogle, core.SubscriptionRequest{
		CalendarID: "cal1",
		ToDate:     strPtr("2024-12-01"),
	}, identity)
	if err != nil {
		t.Fatalf("re-reconcile: %v", err)
	}
	if again.ID != rec.ID {
		t.Fatal("re-subscription created a second record")
	}
	if again.FromDate != "2024-09-15" || again.ToDate != "2024-12-01" {
		t.Fatalf("range = %q..%q", again.FromDate, again.ToDate)
	}

	records, _ := s.ListByUserAndProvider(ctx, "u1", core.ProviderGoogle)
	if len(records) != 1 {
		t.Fatalf("stored records = %d, want 1", len(records))
	}
}

func TestReconcileParticipantOnlyAppliesToLocal(t *testing.T) {
	s := store.NewMemoryStore()
	r := New(s)
	ctx := context.Background()
	identity := core.Identity{UserID: "u1", Email: "u1@example.com"}

	req := core.SubscriptionRequest{CalendarID: "cal1", Participant: boolPtr(true)}

	localRec, err := r.Reconcile(ctx, core.ProviderLocal, req, identity)
	if err != nil {
		t.Fatalf("local reconcile: %v", err)
	}
	if !localRec.Participant {
		t.Error("local record should carry the participant flag")
	}

	googleRec, err := r.Reconcile(ctx, core.ProviderGoogle, req, identity)
	if err != nil {
		t.Fatalf("google reconcile: %v", err)
	}
	if googleRec.Participant {
		t.Error("participant flag must never be set for google records")
	}
}
