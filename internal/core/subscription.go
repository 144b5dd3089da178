package core

// SubscriptionRecord is the canonical stored interest in one
// (provider, calendar, user) triple. At most one record exists per triple;
// re-subscribing updates the date range (and, for Local, the participant
// flag) in place. Records outlive connections and are never deleted here.
type SubscriptionRecord struct {
	ID         string   `json:"id"`
	Provider   Provider `json:"provider"`
	CalendarID string   `json:"calendarId"`
	UserID     string   `json:"userId"`
	OwnerEmail string   `json:"ownerEmail"`

	// Semantic dates, YYYY-MM-DD. Empty means unspecified and is carried
	// through to the provider call as unspecified.
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`

	// Local only; always false for Google and Outlook.
	Participant bool `json:"participant"`
}

// SubscriptionFields are the mutable fields of an upsert. A nil field was not
// supplied by the client: it is left untouched on update and unset on create.
type SubscriptionFields struct {
	OwnerEmail  string
	FromDate    *string
	ToDate      *string
	Participant *bool
}

// SubscriptionRequest is the inbound subscribe payload, uniform across the
// three providers. Pointer fields distinguish "absent" from "zero".
type SubscriptionRequest struct {
	CalendarID  string  `json:"calendarId"`
	FromDate    *string `json:"fromDate,omitempty"`
	ToDate      *string `json:"toDate,omitempty"`
	Participant *bool   `json:"participant,omitempty"`
}

// Validate checks the request shape before it reaches the reconciler.
func (r SubscriptionRequest) Validate() error {
	if r.CalendarID == "" {
		return &InvalidRequestError{Field: "calendarId", Reason: "must not be empty"}
	}
	for _, d := range []*string{r.FromDate, r.ToDate} {
		if d == nil {
			continue
		}
		if _, err := ParseDate(*d); err != nil {
			return &InvalidRequestError{Field: "date", Reason: err.Error()}
		}
	}
	return nil
}

// Identity is the authenticated user attached to a connection's session.
type Identity struct {
	UserID string
	Email  string
}
