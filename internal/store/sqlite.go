package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"calhub/internal/core"
)

// SQLiteStore implements Store on SQLite. The unique index on
// (provider, calendar_id, user_id) plus a single INSERT ... ON CONFLICT
// statement make Upsert atomic under concurrent subscribers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureSchema creates the subscription table and its unique index.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscription (
			id          TEXT PRIMARY KEY,
			provider    TEXT NOT NULL,
			calendar_id TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			owner_email TEXT NOT NULL DEFAULT '',
			from_date   TEXT NOT NULL DEFAULT '',
			to_date     TEXT NOT NULL DEFAULT '',
			participant INTEGER NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS subscription_triple
			ON subscription (provider, calendar_id, user_id);`)
	if err != nil {
		return fmt.Errorf("create subscription schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, provider core.Provider, calendarID, userID string, fields core.SubscriptionFields) (core.SubscriptionRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription (id, provider, calendar_id, user_id, owner_email, from_date, to_date, participant)
		 VALUES (?, ?, ?, ?, ?, COALESCE(?, ''), COALESCE(?, ''), COALESCE(?, 0))
		 ON CONFLICT(provider, calendar_id, user_id) DO UPDATE SET
		   owner_email = excluded.owner_email,
		   from_date   = COALESCE(?, from_date),
		   to_date     = COALESCE(?, to_date),
		   participant = COALESCE(?, participant)`,
		uuid.NewString(), provider.String(), calendarID, userID, fields.OwnerEmail,
		fields.FromDate, fields.ToDate, boolPtrToInt(fields.Participant),
		fields.FromDate, fields.ToDate, boolPtrToInt(fields.Participant),
	)
	if err != nil {
		return core.SubscriptionRecord{}, &core.PersistenceError{Op: "upsert", Err: err}
	}

	rec, err := s.getByTriple(ctx, provider, calendarID, userID)
	if err != nil {
		return core.SubscriptionRecord{}, &core.PersistenceError{Op: "read after upsert", Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) getByTriple(ctx context.Context, provider core.Provider, calendarID, userID string) (core.SubscriptionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider, calendar_id, user_id, owner_email, from_date, to_date, participant
		 FROM subscription WHERE provider = ? AND calendar_id = ? AND user_id = ?`,
		provider.String(), calendarID, userID)
	return scanRecord(row.Scan)
}

func (s *SQLiteStore) ListByUserAndProvider(ctx context.Context, userID string, provider core.Provider) ([]core.SubscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, calendar_id, user_id, owner_email, from_date, to_date, participant
		 FROM subscription WHERE user_id = ? AND provider = ?`,
		userID, provider.String())
	if err != nil {
		return nil, &core.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var records []core.SubscriptionRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, &core.PersistenceError{Op: "list", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "list", Err: err}
	}
	return records, nil
}

func (s *SQLiteStore) Subscribers(ctx context.Context, provider core.Provider) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM subscription WHERE provider = ?`, provider.String())
	if err != nil {
		return nil, &core.PersistenceError{Op: "subscribers", Err: err}
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &core.PersistenceError{Op: "subscribers", Err: err}
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "subscribers", Err: err}
	}
	return users, nil
}

func scanRecord(scan func(...any) error) (core.SubscriptionRecord, error) {
	var rec core.SubscriptionRecord
	var providerStr string
	var participant int
	if err := scan(&rec.ID, &providerStr, &rec.CalendarID, &rec.UserID,
		&rec.OwnerEmail, &rec.FromDate, &rec.ToDate, &participant); err != nil {
		return rec, err
	}
	p, err := core.ParseProvider(providerStr)
	if err != nil {
		return rec, err
	}
	rec.Provider = p
	rec.Participant = participant != 0
	return rec, nil
}

// boolPtrToInt keeps nil (not supplied) as SQL NULL so COALESCE preserves
// the stored value.
func boolPtrToInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}
