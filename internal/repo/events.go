package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"leadline/internal/domain"
)

var eventColumns = []string{"id", "ts", "type", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json"}

type EventFilters struct {
	Type     string
	EntityID string
	// Before pages backwards: only events with id < Before.
	Before int64
	Limit  int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := r.sb().Select(eventColumns...).From("events").OrderBy("id DESC").Limit(uint64(f.Limit))
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": f.Type})
	}
	if f.EntityID != "" {
		q = q.Where(sq.Eq{"entity_id": f.EntityID})
	}
	if f.Before > 0 {
		q = q.Where(sq.Lt{"id": f.Before})
	}
	return r.queryEvents(ctx, q)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.sb().Select(eventColumns...).From("events").OrderBy("id ASC").Limit(uint64(limit))
	if cursor > 0 {
		q = q.Where(sq.Gt{"id": cursor})
	}
	return r.queryEvents(ctx, q)
}

func (r Repo) queryEvents(ctx context.Context, q sq.SelectBuilder) ([]domain.Event, error) {
	rows, err := queryRows(ctx, r.DB, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row, err := queryRow(ctx, r.DB, r.sb().Select("COALESCE(MAX(id),0)").From("events"))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
