package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/logging"
	"leadline/internal/metrics"
	"leadline/internal/repo"
	"leadline/internal/scoring"
)

const systemActor = "system"

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Scoring scoring.Model
	Log     logging.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// New builds an engine over conn using policy; a nil policy means config.Default.
func New(conn *sql.DB, driver db.Driver, policy *config.Policy) Engine {
	return Engine{
		DB:      conn,
		Repo:    repo.Repo{DB: conn, Driver: driver},
		Events:  events.Writer{DB: conn, Driver: driver},
		Scoring: scoring.New(policy),
		Log:     logging.Nop(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logging.Logger {
	if e.Log == nil {
		return logging.Nop()
	}
	return e.Log
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.Now
	return w
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func newID() string {
	return ulid.Make().String()
}

func actorOr(actorID string) string {
	if actorID == "" {
		return systemActor
	}
	return actorID
}

// tempShift describes a temperature write about to be applied to a lead.
type tempShift struct {
	Delta   int
	Trigger string
	Reason  string
	ActorID string
}

// shiftTemperature mutates l in memory: clamped temperature, derived status,
// and probability recomputed from the lead's current stage and deal type.
// It returns the audit row to persist with the lead.
func (e Engine) shiftTemperature(l *domain.Lead, s tempShift, at string) domain.TemperatureChange {
	from, fromStatus := l.Temperature, l.TemperatureStatus
	l.Temperature, l.TemperatureStatus = e.Scoring.Apply(l.Temperature, s.Delta)
	l.Probability = e.Scoring.Probability(l.Stage, l.Temperature, l.DealType)
	l.UpdatedAt = at
	return domain.TemperatureChange{
		ID:           newID(),
		LeadID:       l.ID,
		FromValue:    from,
		ToValue:      l.Temperature,
		FromStatus:   fromStatus,
		ToStatus:     l.TemperatureStatus,
		TriggerEvent: s.Trigger,
		Reason:       s.Reason,
		ActorID:      actorOr(s.ActorID),
		CreatedAt:    at,
	}
}

// forceTemperature pins l to value regardless of bounds arithmetic. Used by terminal transitions.
func (e Engine) forceTemperature(l *domain.Lead, value int, trigger, actorID, at string) domain.TemperatureChange {
	from, fromStatus := l.Temperature, l.TemperatureStatus
	l.Temperature = e.Scoring.Clamp(value)
	l.TemperatureStatus = e.Scoring.StatusFor(l.Temperature)
	l.UpdatedAt = at
	return domain.TemperatureChange{
		ID:           newID(),
		LeadID:       l.ID,
		FromValue:    from,
		ToValue:      l.Temperature,
		FromStatus:   fromStatus,
		ToStatus:     l.TemperatureStatus,
		TriggerEvent: trigger,
		ActorID:      actorOr(actorID),
		CreatedAt:    at,
	}
}

// saveTemperatureTx persists a temperature change row with its event.
func (e Engine) saveTemperatureTx(ctx context.Context, tx *sql.Tx, c domain.TemperatureChange) error {
	if err := e.Repo.InsertTemperatureChangeTx(ctx, tx, c); err != nil {
		return fmt.Errorf("insert temperature change: %w", err)
	}
	return e.events().Append(ctx, tx, events.LeadTemperatureChanged, "lead", c.LeadID, c.ActorID, events.EventPayload{
		"from":        c.FromValue,
		"to":          c.ToValue,
		"from_status": c.FromStatus,
		"to_status":   c.ToStatus,
		"trigger":     c.TriggerEvent,
	})
}

// loadOpenLeadTx fetches a lead inside tx and rejects terminal ones.
func (e Engine) loadOpenLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	l, err := e.Repo.GetLeadTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if l.Stage.Terminal() {
		return l, fmt.Errorf("lead %s is %s: %w", l.LeadNumber, l.Stage, ErrTerminalStage)
	}
	return l, nil
}
