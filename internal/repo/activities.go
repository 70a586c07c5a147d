package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"leadline/internal/domain"
)

var activityColumns = []string{
	"id", "lead_id", "type", "COALESCE(subject,'')", "COALESCE(description,'')",
	"COALESCE(outcome,'')", "COALESCE(next_action,'')", "COALESCE(next_action_date,'')",
	"temperature_impact", "actor_id", "created_at",
}

func scanActivity(row scanner) (domain.LeadActivity, error) {
	var a domain.LeadActivity
	err := row.Scan(&a.ID, &a.LeadID, &a.Type, &a.Subject, &a.Description,
		&a.Outcome, &a.NextAction, &a.NextActionDate,
		&a.TemperatureImpact, &a.ActorID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertActivityTx(ctx context.Context, tx *sql.Tx, a domain.LeadActivity) error {
	_, err := exec(ctx, tx, r.sb().Insert("lead_activities").
		Columns("id", "lead_id", "type", "subject", "description", "outcome", "next_action", "next_action_date",
			"temperature_impact", "actor_id", "created_at").
		Values(a.ID, a.LeadID, a.Type, nullable(a.Subject), nullable(a.Description), nullable(a.Outcome),
			nullable(a.NextAction), nullable(a.NextActionDate), a.TemperatureImpact, a.ActorID, a.CreatedAt))
	return err
}

func (r Repo) latestActivity(ctx context.Context, q querier, leadID string) (domain.LeadActivity, error) {
	row, err := queryRow(ctx, q, r.sb().Select(activityColumns...).From("lead_activities").
		Where(sq.Eq{"lead_id": leadID}).OrderBy("created_at DESC", "id DESC").Limit(1))
	if err != nil {
		return domain.LeadActivity{}, err
	}
	return scanActivity(row)
}

// LatestActivity returns the most recent activity for a lead or ErrNotFound.
func (r Repo) LatestActivity(ctx context.Context, leadID string) (domain.LeadActivity, error) {
	return r.latestActivity(ctx, r.DB, leadID)
}

func (r Repo) LatestActivityTx(ctx context.Context, tx *sql.Tx, leadID string) (domain.LeadActivity, error) {
	return r.latestActivity(ctx, tx, leadID)
}

// ListActivities returns a lead's activities oldest first.
func (r Repo) ListActivities(ctx context.Context, leadID string, limit int) ([]domain.LeadActivity, error) {
	q := r.sb().Select(activityColumns...).From("lead_activities").
		Where(sq.Eq{"lead_id": leadID}).OrderBy("created_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := queryRows(ctx, r.DB, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertTemperatureChangeTx(ctx context.Context, tx *sql.Tx, c domain.TemperatureChange) error {
	_, err := exec(ctx, tx, r.sb().Insert("temperature_changes").
		Columns("id", "lead_id", "from_value", "to_value", "from_status", "to_status", "trigger_event", "reason", "actor_id", "created_at").
		Values(c.ID, c.LeadID, c.FromValue, c.ToValue, c.FromStatus, c.ToStatus, c.TriggerEvent, nullable(c.Reason), c.ActorID, c.CreatedAt))
	return err
}

// ListTemperatureChanges returns a lead's temperature history oldest first.
func (r Repo) ListTemperatureChanges(ctx context.Context, leadID string) ([]domain.TemperatureChange, error) {
	rows, err := queryRows(ctx, r.DB, r.sb().
		Select("id", "lead_id", "from_value", "to_value", "from_status", "to_status", "trigger_event", "COALESCE(reason,'')", "actor_id", "created_at").
		From("temperature_changes").Where(sq.Eq{"lead_id": leadID}).OrderBy("created_at", "id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TemperatureChange
	for rows.Next() {
		var c domain.TemperatureChange
		if err := rows.Scan(&c.ID, &c.LeadID, &c.FromValue, &c.ToValue, &c.FromStatus, &c.ToStatus, &c.TriggerEvent, &c.Reason, &c.ActorID, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// HasTemperatureChangeSinceTx reports whether the lead has a change with the
// given trigger at or after since (RFC3339 UTC).
func (r Repo) HasTemperatureChangeSinceTx(ctx context.Context, tx *sql.Tx, leadID, trigger, since string) (bool, error) {
	row, err := queryRow(ctx, tx, r.sb().Select("COUNT(*)").From("temperature_changes").
		Where(sq.Eq{"lead_id": leadID, "trigger_event": trigger}).
		Where(sq.GtOrEq{"created_at": since}))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
