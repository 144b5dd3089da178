// Package local serves the Local provider: calendar events held in the hub's
// own database rather than fetched from a third party.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calhub/internal/core"
)

// Adapter queries the local events tables. It shares the database connection
// with the subscription store.
type Adapter struct {
	db *sql.DB
}

func New(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

func (a *Adapter) Provider() core.Provider { return core.ProviderLocal }

// EnsureSchema creates the local event tables.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event (
			id           TEXT PRIMARY KEY,
			calendar_id  TEXT NOT NULL,
			title        TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			location     TEXT NOT NULL DEFAULT '',
			organizer    TEXT NOT NULL DEFAULT '',
			url          TEXT NOT NULL DEFAULT '',
			meeting_link TEXT NOT NULL DEFAULT '',
			start_at     TEXT NOT NULL,
			end_at       TEXT NOT NULL,
			is_all_day   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS event_calendar ON event (calendar_id, start_at);
		CREATE TABLE IF NOT EXISTS event_participant (
			event_id TEXT NOT NULL REFERENCES event(id),
			email    TEXT NOT NULL,
			PRIMARY KEY (event_id, email)
		);`)
	if err != nil {
		return fmt.Errorf("create event schema: %w", err)
	}
	return nil
}

// SaveEvent inserts or replaces a local event together with its participant
// list. Used by seeding and by whatever local calendar CRUD sits in front of
// the hub.
func (a *Adapter) SaveEvent(ctx context.Context, ev core.Event) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO event (id, calendar_id, title, description, location, organizer, url, meeting_link, start_at, end_at, is_all_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   calendar_id=excluded.calendar_id, title=excluded.title,
		   description=excluded.description, location=excluded.location,
		   organizer=excluded.organizer, url=excluded.url,
		   meeting_link=excluded.meeting_link, start_at=excluded.start_at,
		   end_at=excluded.end_at, is_all_day=excluded.is_all_day`,
		ev.ID, ev.CalendarID, ev.Title, ev.Description, ev.Location, ev.Organizer,
		ev.URL, ev.MeetingLink, ev.Start.UTC().Format(time.RFC3339),
		ev.End.UTC().Format(time.RFC3339), boolToInt(ev.IsAllDay))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_participant WHERE event_id = ?`, ev.ID); err != nil {
		return fmt.Errorf("save event participants: %w", err)
	}
	for _, email := range ev.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_participant (event_id, email) VALUES (?, ?)`, ev.ID, email); err != nil {
			return fmt.Errorf("save event participants: %w", err)
		}
	}

	return tx.Commit()
}

// FetchEvents returns the calendar's events overlapping the query range. An
// absent bound leaves that side of the range open. With Participant set, only
// events listing the owner email as a participant qualify.
func (a *Adapter) FetchEvents(ctx context.Context, q core.Query) ([]core.Event, error) {
	query := `SELECT id, calendar_id, title, description, location, organizer, url, meeting_link, start_at, end_at, is_all_day
		 FROM event WHERE calendar_id = ?`
	args := []any{q.CalendarID}

	// Semantic dates compare lexicographically against the RFC3339 prefix.
	if q.FromDate != "" {
		query += ` AND substr(end_at, 1, 10) >= ?`
		args = append(args, q.FromDate)
	}
	if q.ToDate != "" {
		query += ` AND substr(start_at, 1, 10) <= ?`
		args = append(args, q.ToDate)
	}
	if q.Participant {
		query += ` AND EXISTS (SELECT 1 FROM event_participant p WHERE p.event_id = event.id AND p.email = ?)`
		args = append(args, q.OwnerEmail)
	}
	query += ` ORDER BY start_at ASC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query local events: %w", err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan local event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query local events: %w", err)
	}

	if err := a.loadParticipants(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (a *Adapter) loadParticipants(ctx context.Context, events []core.Event) error {
	for i := range events {
		rows, err := a.db.QueryContext(ctx,
			`SELECT email FROM event_participant WHERE event_id = ? ORDER BY email`, events[i].ID)
		if err != nil {
			return fmt.Errorf("query participants: %w", err)
		}
		for rows.Next() {
			var email string
			if err := rows.Scan(&email); err != nil {
				rows.Close()
				return fmt.Errorf("scan participant: %w", err)
			}
			events[i].Participants = append(events[i].Participants, email)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("query participants: %w", err)
		}
		rows.Close()
	}
	return nil
}

func scanEvent(rows *sql.Rows) (core.Event, error) {
	var ev core.Event
	var startStr, endStr string
	var allDay int
	if err := rows.Scan(&ev.ID, &ev.CalendarID, &ev.Title, &ev.Description,
		&ev.Location, &ev.Organizer, &ev.URL, &ev.MeetingLink,
		&startStr, &endStr, &allDay); err != nil {
		return ev, err
	}
	ev.Provider = core.ProviderLocal
	ev.Start, _ = time.Parse(time.RFC3339, startStr)
	ev.End, _ = time.Parse(time.RFC3339, endStr)
	ev.IsAllDay = allDay != 0
	return ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
