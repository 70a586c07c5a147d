package engine

import (
	"context"
	"fmt"

	"leadline/internal/domain"
	"leadline/internal/events"
)

const (
	activityStageChange = "stage_change"
	activityDealWon     = "deal_won"
	activityDealLost    = "deal_lost"
	triggerStageForward = "stage_forward"
)

// StageMove moves an open lead to another open stage.
type StageMove struct {
	LeadID   string
	Stage    domain.Stage
	SubStage string
	Note     string
	ActorID  string
}

// MoveStage writes the new stage, resets stage_entered_at, recomputes
// probability from the lead's own temperature and deal type, and logs a
// stage_change activity. A forward move also earns the policy's forward bonus.
// Won and lost are rejected here: MarkWon is the only way into won and MarkLost
// the only way into lost. scoring.IsForward still counts any open stage to won
// as forward; MarkWon pins temperature to the maximum so no bonus applies.
func (e Engine) MoveStage(ctx context.Context, m StageMove) (domain.Lead, error) {
	if !m.Stage.Valid() {
		return domain.Lead{}, invalid("stage", "unknown stage %q", m.Stage)
	}
	if m.Stage.Terminal() {
		return domain.Lead{}, invalid("stage", "use the won or lost operation to close a lead")
	}
	id, err := e.resolveID(ctx, m.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	at := stamp(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.loadOpenLeadTx(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	from := l.Stage
	forward := e.Scoring.IsForward(from, m.Stage)

	l.Stage = m.Stage
	l.SubStage = m.SubStage
	l.StageEnteredAt = at
	l.Probability = e.Scoring.Probability(l.Stage, l.Temperature, l.DealType)
	l.UpdatedAt = at

	act := domain.LeadActivity{
		ID:          newID(),
		LeadID:      l.ID,
		Type:        activityStageChange,
		Subject:     fmt.Sprintf("Stage moved from %s to %s", from, m.Stage),
		Description: m.Note,
		ActorID:     actorOr(m.ActorID),
		CreatedAt:   at,
	}
	var change *domain.TemperatureChange
	if forward {
		act.TemperatureImpact = e.Scoring.ForwardBonus()
		c := e.shiftTemperature(&l, tempShift{
			Delta:   act.TemperatureImpact,
			Trigger: triggerStageForward,
			Reason:  fmt.Sprintf("%s -> %s", from, m.Stage),
			ActorID: m.ActorID,
		}, at)
		change = &c
	}
	if err := e.Repo.UpdateLeadTx(ctx, tx, &l); err != nil {
		return domain.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if change != nil {
		if err := e.saveTemperatureTx(ctx, tx, *change); err != nil {
			return domain.Lead{}, err
		}
	}
	if err := e.Repo.InsertActivityTx(ctx, tx, act); err != nil {
		return domain.Lead{}, fmt.Errorf("insert activity: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.LeadStageChanged, "lead", l.ID, act.ActorID, events.EventPayload{
		"from":      from,
		"to":        l.Stage,
		"sub_stage": l.SubStage,
		"forward":   forward,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.StageMoved(string(from), string(l.Stage))
	if change != nil {
		e.Metrics.TemperatureUpdated(triggerStageForward)
	}
	return l, nil
}

// WonInput finalizes a lead as won.
type WonInput struct {
	LeadID     string  `validate:"required"`
	FinalValue float64 `validate:"gte=0"`
	PONumber   string  `validate:"max=64"`
	ActorID    string
}

// MarkWon closes an open lead as won: temperature and probability are pinned
// to their maximums and after-sales tracking starts at po_pending.
func (e Engine) MarkWon(ctx context.Context, in WonInput) (domain.Lead, error) {
	if err := checkStruct(in); err != nil {
		return domain.Lead{}, err
	}
	id, err := e.resolveID(ctx, in.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	at := stamp(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.loadOpenLeadTx(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	from := l.Stage
	finalValue := in.FinalValue
	l.Stage = domain.StageWon
	l.StageEnteredAt = at
	l.WonDate = at
	l.ActualCloseDate = at
	l.FinalValue = &finalValue
	l.PONumber = in.PONumber
	l.AfterSalesStatus = domain.AfterSalesPOPending
	change := e.forceTemperature(&l, e.Scoring.Policy().Temperature.Max, activityDealWon, in.ActorID, at)
	l.Probability = 100

	if err := e.Repo.UpdateLeadTx(ctx, tx, &l); err != nil {
		return domain.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if err := e.saveTemperatureTx(ctx, tx, change); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.InsertAfterSalesTx(ctx, tx, domain.AfterSales{
		ID:         newID(),
		LeadID:     l.ID,
		Status:     domain.AfterSalesPOPending,
		PONumber:   in.PONumber,
		FinalValue: finalValue,
		CreatedAt:  at,
	}); err != nil {
		return domain.Lead{}, err
	}
	subject := fmt.Sprintf("Deal won at %.2f", finalValue)
	if in.PONumber != "" {
		subject += " (PO " + in.PONumber + ")"
	}
	if err := e.Repo.InsertActivityTx(ctx, tx, domain.LeadActivity{
		ID:        newID(),
		LeadID:    l.ID,
		Type:      activityDealWon,
		Subject:   subject,
		ActorID:   actorOr(in.ActorID),
		CreatedAt: at,
	}); err != nil {
		return domain.Lead{}, fmt.Errorf("insert activity: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.LeadWon, "lead", l.ID, actorOr(in.ActorID), events.EventPayload{
		"from":        from,
		"final_value": finalValue,
		"po_number":   in.PONumber,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.DealClosed(string(domain.StageWon))
	e.Metrics.StageMoved(string(from), string(domain.StageWon))
	e.log().Info("deal won", "lead_id", l.ID, "lead_number", l.LeadNumber, "final_value", finalValue)
	return l, nil
}

// LostInput finalizes a lead as lost.
type LostInput struct {
	LeadID     string `validate:"required"`
	Reason     string `validate:"required,max=200"`
	Competitor string `validate:"max=200"`
	Notes      string
	ActorID    string
}

// MarkLost closes an open lead as lost with temperature and probability pinned to their minimums.
func (e Engine) MarkLost(ctx context.Context, in LostInput) (domain.Lead, error) {
	if err := checkStruct(in); err != nil {
		return domain.Lead{}, err
	}
	id, err := e.resolveID(ctx, in.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	at := stamp(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.loadOpenLeadTx(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	from := l.Stage
	l.Stage = domain.StageLost
	l.StageEnteredAt = at
	l.LostDate = at
	l.ActualCloseDate = at
	l.LostReason = in.Reason
	l.LostCompetitor = in.Competitor
	l.LostNotes = in.Notes
	change := e.forceTemperature(&l, e.Scoring.Policy().Temperature.Min, activityDealLost, in.ActorID, at)
	l.Probability = 0

	if err := e.Repo.UpdateLeadTx(ctx, tx, &l); err != nil {
		return domain.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if err := e.saveTemperatureTx(ctx, tx, change); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.InsertActivityTx(ctx, tx, domain.LeadActivity{
		ID:          newID(),
		LeadID:      l.ID,
		Type:        activityDealLost,
		Subject:     "Deal lost: " + in.Reason,
		Description: in.Notes,
		Outcome:     in.Competitor,
		ActorID:     actorOr(in.ActorID),
		CreatedAt:   at,
	}); err != nil {
		return domain.Lead{}, fmt.Errorf("insert activity: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.LeadLost, "lead", l.ID, actorOr(in.ActorID), events.EventPayload{
		"from":       from,
		"reason":     in.Reason,
		"competitor": in.Competitor,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.DealClosed(string(domain.StageLost))
	e.Metrics.StageMoved(string(from), string(domain.StageLost))
	e.log().Info("deal lost", "lead_id", l.ID, "lead_number", l.LeadNumber, "reason", in.Reason)
	return l, nil
}
