// Package dispatch routes a canonical subscription record to the right
// provider adapter. One generic pipeline parameterized by a per-provider
// Descriptor replaces per-provider handler copies: the descriptor carries the
// event names the gateway emits and how to shape the record into the
// adapter's query.
package dispatch

import (
	"context"
	"fmt"

	"calhub/internal/core"
)

// Descriptor describes one provider to the generic pipeline.
type Descriptor struct {
	Provider core.Provider
	Adapter  core.Adapter

	// Inbound subscribe event name, e.g. "googleEvents".
	RequestEvent string
	// Unicast response event name, e.g. "googleResponse".
	ResponseEvent string
	// Broadcast update event name, e.g. "googleEventUpdated".
	UpdateEvent string
	// Human-readable message carried on response/update payloads.
	Message string

	// BuildQuery shapes the canonical record into the parameters this
	// provider's adapter expects.
	BuildQuery func(core.SubscriptionRecord) (core.Query, error)
}

// Registry holds the descriptors for the closed provider set.
type Registry struct {
	byProvider map[core.Provider]Descriptor
	byEvent    map[string]Descriptor
}

// NewRegistry builds a registry from the configured adapters. Providers with
// no adapter configured are simply absent: a subscribe for them fails with a
// ProviderError rather than a crash.
func NewRegistry(adapters ...core.Adapter) *Registry {
	r := &Registry{
		byProvider: make(map[core.Provider]Descriptor),
		byEvent:    make(map[string]Descriptor),
	}
	for _, a := range adapters {
		d, ok := describe(a.Provider())
		if !ok {
			continue
		}
		d.Adapter = a
		r.byProvider[d.Provider] = d
		r.byEvent[d.RequestEvent] = d
	}
	return r
}

func describe(p core.Provider) (Descriptor, bool) {
	switch p {
	case core.ProviderLocal:
		return Descriptor{
			Provider:      core.ProviderLocal,
			RequestEvent:  "localEvents",
			ResponseEvent: "localResponse",
			UpdateEvent:   "localEventUpdated",
			Message:       "Local Events",
			BuildQuery:    buildLocalQuery,
		}, true
	case core.ProviderGoogle:
		return Descriptor{
			Provider:      core.ProviderGoogle,
			RequestEvent:  "googleEvents",
			ResponseEvent: "googleResponse",
			UpdateEvent:   "googleEventUpdated",
			Message:       "Google Events",
			BuildQuery:    buildGoogleQuery,
		}, true
	case core.ProviderOutlook:
		return Descriptor{
			Provider:      core.ProviderOutlook,
			RequestEvent:  "outlookEvents",
			ResponseEvent: "outlookResponse",
			UpdateEvent:   "outlookEventUpdated",
			Message:       "Outlook Events",
			BuildQuery:    buildOutlookQuery,
		}, true
	default:
		return Descriptor{}, false
	}
}

// ByProvider returns the descriptor for a provider, if an adapter is wired.
func (r *Registry) ByProvider(p core.Provider) (Descriptor, bool) {
	d, ok := r.byProvider[p]
	return d, ok
}

// ByEvent returns the descriptor owning an inbound event name.
func (r *Registry) ByEvent(event string) (Descriptor, bool) {
	d, ok := r.byEvent[event]
	return d, ok
}

// Fetch dispatches one fetch for the record's provider. Adapter failures are
// wrapped into ProviderError; no retry happens here.
func (r *Registry) Fetch(ctx context.Context, rec core.SubscriptionRecord) ([]core.Event, error) {
	d, ok := r.byProvider[rec.Provider]
	if !ok {
		return nil, &core.ProviderError{Provider: rec.Provider, Err: fmt.Errorf("no adapter configured")}
	}
	q, err := d.BuildQuery(rec)
	if err != nil {
		return nil, &core.ProviderError{Provider: rec.Provider, Err: err}
	}
	events, err := d.Adapter.FetchEvents(ctx, q)
	if err != nil {
		return nil, &core.ProviderError{Provider: rec.Provider, Err: err}
	}
	return events, nil
}

// Local wants the user, range, calendar, owner email and the participant flag.
func buildLocalQuery(rec core.SubscriptionRecord) (core.Query, error) {
	return core.Query{
		UserID:      rec.UserID,
		FromDate:    rec.FromDate,
		ToDate:      rec.ToDate,
		CalendarID:  rec.CalendarID,
		OwnerEmail:  rec.OwnerEmail,
		Participant: rec.Participant,
	}, nil
}

// Google wants calendar, owner email, range and user; participant never applies.
func buildGoogleQuery(rec core.SubscriptionRecord) (core.Query, error) {
	return core.Query{
		CalendarID: rec.CalendarID,
		OwnerEmail: rec.OwnerEmail,
		FromDate:   rec.FromDate,
		ToDate:     rec.ToDate,
		UserID:     rec.UserID,
	}, nil
}

// Outlook wants real time bounds. A date the client never supplied stays nil
// all the way to the provider call; no sentinel date is substituted.
func buildOutlookQuery(rec core.SubscriptionRecord) (core.Query, error) {
	from, err := core.ParseDate(rec.FromDate)
	if err != nil {
		return core.Query{}, err
	}
	to, err := core.ParseDate(rec.ToDate)
	if err != nil {
		return core.Query{}, err
	}
	return core.Query{
		CalendarID: rec.CalendarID,
		UserID:     rec.UserID,
		OwnerEmail: rec.OwnerEmail,
		From:       from,
		To:         to,
	}, nil
}
