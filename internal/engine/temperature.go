package engine

import (
	"context"
	"fmt"

	"leadline/internal/domain"
	"leadline/internal/events"
)

const triggerManual = "manual_adjustment"

// TemperatureUpdate adjusts a lead's temperature either by an activity type
// (looked up in the impact table) or by an explicit manual adjustment.
type TemperatureUpdate struct {
	LeadID           string
	ActivityType     string
	ManualAdjustment *int
	Reason           string
	// Trigger overrides the recorded trigger event.
	Trigger string
	ActorID string
}

// TemperatureResult is the lead after the update and the audit row written for it.
type TemperatureResult struct {
	Lead   domain.Lead              `json:"lead"`
	Change domain.TemperatureChange `json:"change"`
}

func (u TemperatureUpdate) delta(e Engine) (int, string, error) {
	if u.ManualAdjustment != nil {
		trigger := u.Trigger
		if trigger == "" {
			trigger = triggerManual
		}
		return *u.ManualAdjustment, trigger, nil
	}
	if u.ActivityType == "" {
		return 0, "", invalid("activity_type", "activity type or manual adjustment is required")
	}
	trigger := u.Trigger
	if trigger == "" {
		trigger = u.ActivityType
	}
	return e.Scoring.Impact(u.ActivityType), trigger, nil
}

// UpdateTemperature applies a delta to an open lead, writing the lead and its
// TemperatureChange row in one transaction.
func (e Engine) UpdateTemperature(ctx context.Context, u TemperatureUpdate) (TemperatureResult, error) {
	delta, trigger, err := u.delta(e)
	if err != nil {
		return TemperatureResult{}, err
	}
	id, err := e.resolveID(ctx, u.LeadID)
	if err != nil {
		return TemperatureResult{}, err
	}
	at := stamp(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TemperatureResult{}, err
	}
	defer tx.Rollback()

	l, err := e.loadOpenLeadTx(ctx, tx, id)
	if err != nil {
		return TemperatureResult{}, err
	}
	change := e.shiftTemperature(&l, tempShift{Delta: delta, Trigger: trigger, Reason: u.Reason, ActorID: u.ActorID}, at)
	if err := e.Repo.UpdateLeadTx(ctx, tx, &l); err != nil {
		return TemperatureResult{}, fmt.Errorf("update lead: %w", err)
	}
	if err := e.saveTemperatureTx(ctx, tx, change); err != nil {
		return TemperatureResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TemperatureResult{}, err
	}
	e.Metrics.TemperatureUpdated(trigger)
	return TemperatureResult{Lead: l, Change: change}, nil
}

// ActivityInput records an interaction with a lead.
type ActivityInput struct {
	LeadID         string `validate:"required"`
	Type           string `validate:"required,max=64"`
	Subject        string `validate:"max=200"`
	Description    string
	Outcome        string
	NextAction     string
	NextActionDate string `validate:"omitempty,datetime=2006-01-02"`
	ActorID        string
}

// ActivityResult carries the appended activity and the lead after its impact.
type ActivityResult struct {
	Activity domain.LeadActivity       `json:"activity"`
	Lead     domain.Lead               `json:"lead"`
	Change   *domain.TemperatureChange `json:"change,omitempty"`
}

// LogActivity appends an activity and applies its impact to the lead's
// temperature. Activities on won or lost leads are kept for history with
// impact 0 and leave the score untouched.
func (e Engine) LogActivity(ctx context.Context, in ActivityInput) (ActivityResult, error) {
	if err := checkStruct(in); err != nil {
		return ActivityResult{}, err
	}
	id, err := e.resolveID(ctx, in.LeadID)
	if err != nil {
		return ActivityResult{}, err
	}
	at := stamp(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ActivityResult{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, id)
	if err != nil {
		return ActivityResult{}, err
	}
	act := domain.LeadActivity{
		ID:             newID(),
		LeadID:         l.ID,
		Type:           in.Type,
		Subject:        in.Subject,
		Description:    in.Description,
		Outcome:        in.Outcome,
		NextAction:     in.NextAction,
		NextActionDate: in.NextActionDate,
		ActorID:        actorOr(in.ActorID),
		CreatedAt:      at,
	}
	res := ActivityResult{Lead: l}
	if !l.Stage.Terminal() {
		act.TemperatureImpact = e.Scoring.Impact(in.Type)
		change := e.shiftTemperature(&l, tempShift{Delta: act.TemperatureImpact, Trigger: in.Type, Reason: in.Subject, ActorID: in.ActorID}, at)
		if err := e.Repo.UpdateLeadTx(ctx, tx, &l); err != nil {
			return ActivityResult{}, fmt.Errorf("update lead: %w", err)
		}
		if err := e.saveTemperatureTx(ctx, tx, change); err != nil {
			return ActivityResult{}, err
		}
		res.Lead = l
		res.Change = &change
	}
	if err := e.Repo.InsertActivityTx(ctx, tx, act); err != nil {
		return ActivityResult{}, fmt.Errorf("insert activity: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.LeadActivityLogged, "lead", l.ID, act.ActorID, events.EventPayload{
		"activity_id": act.ID,
		"type":        act.Type,
		"impact":      act.TemperatureImpact,
	}); err != nil {
		return ActivityResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ActivityResult{}, err
	}
	res.Activity = act
	if res.Change != nil {
		e.Metrics.TemperatureUpdated(in.Type)
	}
	return res, nil
}
