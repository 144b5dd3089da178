package outlook

import (
	"context"
	"fmt"
	"time"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"calhub/internal/core"
)

var selectFields = []string{
	"id", "iCalUId", "subject", "body", "start", "end", "location",
	"isAllDay", "organizer", "attendees", "onlineMeeting", "webLink",
	"isCancelled",
}

// FetchEvents retrieves the calendar's events for the owner. With both date
// bounds present it uses the calendar-view window; with either bound absent
// the unfiltered event listing is used instead and the present bound (if any)
// is applied here — no sentinel date is ever sent to Graph.
func (a *Adapter) FetchEvents(ctx context.Context, q core.Query) ([]core.Event, error) {
	client, err := a.clientFor(q.OwnerEmail)
	if err != nil {
		return nil, err
	}

	var result models.EventCollectionResponseable
	if q.From != nil && q.To != nil {
		result, err = calendarView(ctx, client, q)
	} else {
		result, err = eventList(ctx, client, q)
	}
	if err != nil {
		return nil, err
	}

	events, err := collect(ctx, client, result, q)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// calendarView asks Graph for the expanded occurrence window between the two
// bounds. The stored range is inclusive, so the end bound moves past the day.
func calendarView(ctx context.Context, client *msgraphsdk.GraphServiceClient, q core.Query) (models.EventCollectionResponseable, error) {
	startStr := q.From.UTC().Format(time.RFC3339)
	endStr := q.To.Add(24 * time.Hour).UTC().Format(time.RFC3339)
	orderBy := []string{"start/dateTime"}
	top := int32(100)

	headers := abstractions.NewRequestHeaders()
	headers.Add("Prefer", `outlook.timezone="UTC"`)

	var result models.EventCollectionResponseable
	var err error
	if q.CalendarID == "default" {
		config := &users.ItemCalendarViewRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemCalendarViewRequestBuilderGetQueryParameters{
				StartDateTime: &startStr,
				EndDateTime:   &endStr,
				Select:        selectFields,
				Orderby:       orderBy,
				Top:           &top,
			},
			Headers: headers,
		}
		result, err = client.Me().CalendarView().Get(ctx, config)
	} else {
		config := &users.ItemCalendarsItemCalendarViewRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemCalendarsItemCalendarViewRequestBuilderGetQueryParameters{
				StartDateTime: &startStr,
				EndDateTime:   &endStr,
				Select:        selectFields,
				Orderby:       orderBy,
				Top:           &top,
			},
			Headers: headers,
		}
		result, err = client.Me().Calendars().ByCalendarId(q.CalendarID).CalendarView().Get(ctx, config)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch calendar view: %w", err)
	}
	return result, nil
}

// eventList is the no-window listing used when a date bound is unspecified.
func eventList(ctx context.Context, client *msgraphsdk.GraphServiceClient, q core.Query) (models.EventCollectionResponseable, error) {
	top := int32(100)

	headers := abstractions.NewRequestHeaders()
	headers.Add("Prefer", `outlook.timezone="UTC"`)

	var result models.EventCollectionResponseable
	var err error
	if q.CalendarID == "default" {
		config := &users.ItemEventsRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemEventsRequestBuilderGetQueryParameters{
				Select: selectFields,
				Top:    &top,
			},
			Headers: headers,
		}
		result, err = client.Me().Events().Get(ctx, config)
	} else {
		config := &users.ItemCalendarsItemEventsRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemCalendarsItemEventsRequestBuilderGetQueryParameters{
				Select: selectFields,
				Top:    &top,
			},
			Headers: headers,
		}
		result, err = client.Me().Calendars().ByCalendarId(q.CalendarID).Events().Get(ctx, config)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return result, nil
}

// collect walks all pages, dropping cancelled events and applying whatever
// date bounds the calendar-view window could not.
func collect(ctx context.Context, client *msgraphsdk.GraphServiceClient, result models.EventCollectionResponseable, q core.Query) ([]core.Event, error) {
	var events []core.Event

	pageIterator, err := msgraphcore.NewPageIterator[models.Eventable](
		result,
		client.GetAdapter(),
		models.CreateEventCollectionResponseFromDiscriminatorValue,
	)
	if err != nil {
		return nil, fmt.Errorf("create page iterator: %w", err)
	}

	err = pageIterator.Iterate(ctx, func(item models.Eventable) bool {
		if derefBool(item.GetIsCancelled()) {
			return true // skip cancelled, continue
		}
		ev := parseGraphEvent(item, q.CalendarID)
		if q.From != nil && ev.End.Before(*q.From) {
			return true
		}
		if q.To != nil && !ev.Start.Before(q.To.Add(24*time.Hour)) {
			return true
		}
		events = append(events, ev)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// parseGraphEvent converts a Graph SDK event into the hub's unified shape.
func parseGraphEvent(item models.Eventable, calendarID string) core.Event {
	// Times are UTC because of the Prefer header.
	start := parseSDKDateTime(item.GetStart())
	end := parseSDKDateTime(item.GetEnd())

	meetingLink := ""
	if om := item.GetOnlineMeeting(); om != nil {
		if joinURL := om.GetJoinUrl(); joinURL != nil {
			meetingLink = *joinURL
		}
	}

	// body.content may be HTML or text
	description := ""
	if body := item.GetBody(); body != nil {
		if content := body.GetContent(); content != nil {
			description = *content
		}
	}

	location := ""
	if loc := item.GetLocation(); loc != nil {
		if dn := loc.GetDisplayName(); dn != nil {
			location = *dn
		}
	}

	organizer := ""
	if org := item.GetOrganizer(); org != nil {
		if addr := org.GetEmailAddress(); addr != nil {
			organizer = derefStr(addr.GetAddress())
		}
	}

	var participants []string
	for _, attendee := range item.GetAttendees() {
		if addr := attendee.GetEmailAddress(); addr != nil {
			if email := derefStr(addr.GetAddress()); email != "" {
				participants = append(participants, email)
			}
		}
	}

	return core.Event{
		ID:           derefStr(item.GetId()),
		Provider:     core.ProviderOutlook,
		CalendarID:   calendarID,
		Title:        derefStr(item.GetSubject()),
		Description:  description,
		Location:     location,
		Organizer:    organizer,
		Participants: participants,
		URL:          derefStr(item.GetWebLink()),
		MeetingLink:  meetingLink,
		Start:        start,
		End:          end,
		IsAllDay:     derefBool(item.GetIsAllDay()),
	}
}

// parseSDKDateTime converts a Graph SDK DateTimeTimeZone to time.Time.
func parseSDKDateTime(dt models.DateTimeTimeZoneable) time.Time {
	if dt == nil {
		return time.Time{}
	}
	dateTimeStr := dt.GetDateTime()
	if dateTimeStr == nil {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02T15:04:05.0000000",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, *dateTimeStr); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
