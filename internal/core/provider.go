package core

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies one of the calendar sources the hub can subscribe to.
// It is a closed set: anything else is rejected at the boundary.
type Provider int

const (
	ProviderLocal Provider = iota
	ProviderGoogle
	ProviderOutlook
)

// Providers lists every known provider, in a stable order.
func Providers() []Provider {
	return []Provider{ProviderLocal, ProviderGoogle, ProviderOutlook}
}

func (p Provider) String() string {
	switch p {
	case ProviderLocal:
		return "local"
	case ProviderGoogle:
		return "google"
	case ProviderOutlook:
		return "outlook"
	default:
		return fmt.Sprintf("provider(%d)", int(p))
	}
}

// ParseProvider maps a configuration or wire string onto a Provider.
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local":
		return ProviderLocal, nil
	case "google":
		return ProviderGoogle, nil
	case "outlook":
		return ProviderOutlook, nil
	default:
		return 0, fmt.Errorf("unknown provider: %q (supported: local, google, outlook)", s)
	}
}

// Query carries the parameters an adapter needs for one fetch. The dispatch
// layer fills the fields each provider cares about and leaves the rest zero:
// Local reads the semantic date strings and Participant, Google reads the
// semantic date strings, Outlook reads From/To (nil means the stored date was
// never supplied and must stay unspecified at the provider call).
type Query struct {
	UserID     string
	OwnerEmail string
	CalendarID string

	// Semantic dates, YYYY-MM-DD, empty when unspecified.
	FromDate string
	ToDate   string

	// Parsed bounds for adapters that want real times (Outlook).
	From *time.Time
	To   *time.Time

	// Local only: the user must appear as a participant.
	Participant bool
}

// Adapter is a calendar source (the hub's own store, Google, Outlook).
// FetchEvents blocks until done or the context is cancelled. Adapters own
// their timeout and retry policy; the dispatch layer adds none.
type Adapter interface {
	Provider() Provider
	FetchEvents(ctx context.Context, q Query) ([]Event, error)
}

// DateLayout is the semantic date format used on the wire and in the store.
const DateLayout = "2006-01-02"

// ParseDate parses a semantic date. An empty string returns a nil time,
// preserving "unspecified" rather than substituting a sentinel.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return &t, nil
}
