package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"leadline/internal/db"
)

const (
	LeadCreated            = "lead.created"
	LeadTemperatureChanged = "lead.temperature_changed"
	LeadActivityLogged     = "lead.activity_logged"
	LeadStageChanged       = "lead.stage_changed"
	LeadWon                = "lead.won"
	LeadLost               = "lead.lost"
	SweepCompleted         = "sweep.completed"
)

// Types lists every event type the engine emits.
var Types = []string{LeadCreated, LeadTemperatureChanged, LeadActivityLogged, LeadStageChanged, LeadWon, LeadLost, SweepCompleted}

type Writer struct {
	DB     *sql.DB
	Driver db.Driver
	Now    func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query, args, err := w.Driver.Builder().Insert("events").
		Columns("ts", "type", "entity_kind", "entity_id", "actor_id", "payload_json").
		Values(ts, evtType, entityKind, nullable(entityID), actorID, string(data)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
