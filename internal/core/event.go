package core

import "time"

// Event is the unified record every adapter converts its provider payload
// into. The hub itself never inspects events beyond flattening slices of
// them and forwarding the result to clients.
type Event struct {
	ID         string   `json:"id"`
	Provider   Provider `json:"-"`
	CalendarID string   `json:"calendarId"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Organizer   string `json:"organizer,omitempty"`
	// Participant emails, as reported by the provider.
	Participants []string `json:"participants,omitempty"`
	// Calendar event page URL.
	URL string `json:"url,omitempty"`
	// Video conferencing link (Meet, Teams, Zoom, ...).
	MeetingLink string `json:"meetingLink,omitempty"`

	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	IsAllDay bool      `json:"isAllDay"`
}

// Duration returns the length of the event.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}
