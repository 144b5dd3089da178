// Package google fetches events from Google Calendar on behalf of hub users.
// Each calendar owner has a saved OAuth token (see the auth command); the
// adapter builds a per-owner Calendar service lazily and caches it.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calhub/internal/core"
)

type Adapter struct {
	credsFile string
	tokenDir  string

	mu       sync.Mutex
	config   *oauth2.Config
	services map[string]*calendar.Service
}

// New builds the adapter. credsFile is the OAuth client credentials JSON;
// tokenDir holds one token file per calendar owner (<email>.json).
func New(credsFile, tokenDir string) *Adapter {
	return &Adapter{
		credsFile: credsFile,
		tokenDir:  tokenDir,
		services:  make(map[string]*calendar.Service),
	}
}

func (a *Adapter) Provider() core.Provider { return core.ProviderGoogle }

// FetchEvents lists the calendar's events for the owner. Absent date bounds
// simply omit the corresponding time filter.
func (a *Adapter) FetchEvents(ctx context.Context, q core.Query) ([]core.Event, error) {
	svc, err := a.serviceFor(ctx, q.OwnerEmail)
	if err != nil {
		return nil, err
	}

	var results []core.Event
	pageToken := ""
	for {
		req := svc.Events.List(q.CalendarID).
			ShowDeleted(false).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx)
		if q.FromDate != "" {
			t, err := core.ParseDate(q.FromDate)
			if err != nil {
				return nil, err
			}
			req = req.TimeMin(t.UTC().Format(time.RFC3339))
		}
		if q.ToDate != "" {
			t, err := core.ParseDate(q.ToDate)
			if err != nil {
				return nil, err
			}
			// The stored range is inclusive; push the API bound past the day.
			req = req.TimeMax(t.Add(24 * time.Hour).UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		page, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("api call failed for calendar %s: %w", q.CalendarID, err)
		}
		for _, item := range page.Items {
			results = append(results, parseEvent(item, q.CalendarID))
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return results, nil
}

// serviceFor returns the cached Calendar service for an owner, creating it
// from the saved token on first use.
func (a *Adapter) serviceFor(ctx context.Context, ownerEmail string) (*calendar.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if svc, ok := a.services[ownerEmail]; ok {
		return svc, nil
	}

	if a.config == nil {
		b, err := os.ReadFile(a.credsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		a.config = config
	}

	tok, err := tokenFromFile(a.tokenPath(ownerEmail))
	if err != nil {
		return nil, fmt.Errorf("no saved token for %s (run 'calhub auth --provider google'): %w", ownerEmail, err)
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(a.config.Client(ctx, tok)))
	if err != nil {
		return nil, err
	}
	a.services[ownerEmail] = svc
	return svc, nil
}

func (a *Adapter) tokenPath(ownerEmail string) string {
	return filepath.Join(a.tokenDir, ownerEmail+".json")
}

// tokenFromFile reads an OAuth token from a JSON file.
func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// parseEvent converts a Google Calendar event into the hub's unified shape.
func parseEvent(item *calendar.Event, calendarID string) core.Event {
	var start, end time.Time
	isAllDay := false
	if item.Start != nil && item.Start.DateTime != "" {
		start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		end, _ = time.Parse(time.RFC3339, item.End.DateTime)
	} else if item.Start != nil {
		// All-day events carry plain dates; Google's end date is exclusive.
		start, _ = time.Parse(core.DateLayout, item.Start.Date)
		end, _ = time.Parse(core.DateLayout, item.End.Date)
		isAllDay = true
	}

	var participants []string
	for _, attendee := range item.Attendees {
		if attendee.Email != "" {
			participants = append(participants, attendee.Email)
		}
	}

	organizer := ""
	if item.Organizer != nil {
		organizer = item.Organizer.Email
	}

	return core.Event{
		ID:           item.Id,
		Provider:     core.ProviderGoogle,
		CalendarID:   calendarID,
		Title:        item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		Organizer:    organizer,
		Participants: participants,
		URL:          item.HtmlLink,
		MeetingLink:  extractMeetingLink(item),
		Start:        start,
		End:          end,
		IsAllDay:     isAllDay,
	}
}

// extractMeetingLink gets the video conferencing link from the event.
func extractMeetingLink(item *calendar.Event) string {
	if item.ConferenceData != nil {
		for _, entry := range item.ConferenceData.EntryPoints {
			if entry.EntryPointType == "video" {
				return entry.Uri
			}
		}
	}
	// Fallback to legacy HangoutLink
	return item.HangoutLink
}
