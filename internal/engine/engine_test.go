package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T, policy *config.Policy) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn, db.SQLite))

	clock := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn, db.SQLite, policy)
	env := &testEnv{Engine: eng, Ctx: ctx, clock: &clock}
	env.Engine.Now = func() time.Time { return *env.clock }
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env *testEnv) createLead(t *testing.T, dealType domain.DealType) domain.Lead {
	t.Helper()
	l, err := env.Engine.CreateLead(env.Ctx, engine.NewLead{
		CompanyName:    gofakeit.Company(),
		ContactName:    gofakeit.Name(),
		ContactEmail:   gofakeit.Email(),
		DealType:       dealType,
		EstimatedValue: 150000,
		ActorID:        "tester",
	})
	require.NoError(t, err)
	return l
}

func (env *testEnv) adjust(t *testing.T, leadID string, delta int) domain.Lead {
	t.Helper()
	res, err := env.Engine.UpdateTemperature(env.Ctx, engine.TemperatureUpdate{LeadID: leadID, ManualAdjustment: &delta, ActorID: "tester"})
	require.NoError(t, err)
	return res.Lead
}

func TestCreateLeadDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	l, err := env.Engine.CreateLead(env.Ctx, engine.NewLead{
		CompanyName:  "PT Sinar Jaya",
		ContactPhone: "+62 812-3456-7890",
		DealType:     domain.DealSupply,
	})
	require.NoError(t, err)
	assert.Equal(t, "L/25/MAR/00001", l.LeadNumber)
	assert.Equal(t, domain.StageLead, l.Stage)
	assert.Equal(t, 0, l.Temperature)
	assert.Equal(t, domain.StatusCold, l.TemperatureStatus)
	assert.Equal(t, 12, l.Probability)
	assert.Equal(t, "+6281234567890", l.ContactPhone)
	assert.Equal(t, "system", l.CreatedBy)

	stored, err := env.Engine.GetLead(env.Ctx, l.LeadNumber)
	require.NoError(t, err)
	assert.Equal(t, l.ID, stored.ID)
	assert.Equal(t, int64(1), stored.Version)
}

func TestCreateLeadValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := map[string]engine.NewLead{
		"missing company": {DealType: domain.DealApply},
		"bad deal type":   {CompanyName: "Acme", DealType: "barter"},
		"negative value":  {CompanyName: "Acme", DealType: domain.DealApply, EstimatedValue: -1},
		"bad email":       {CompanyName: "Acme", DealType: domain.DealApply, ContactEmail: "nope"},
		"bad phone":       {CompanyName: "Acme", DealType: domain.DealApply, ContactPhone: "12"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.CreateLead(env.Ctx, in)
			var verr engine.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestLeadNumberSequencePerMonth(t *testing.T) {
	env := newTestEnv(t, nil)
	*env.clock = time.Date(2025, time.February, 27, 12, 0, 0, 0, time.UTC)
	feb := env.createLead(t, domain.DealApply)
	assert.Equal(t, "L/25/FEB/00001", feb.LeadNumber)

	*env.clock = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	var last domain.Lead
	for i := 0; i < 6; i++ {
		last = env.createLead(t, domain.DealApply)
	}
	assert.Equal(t, "L/25/MAR/00006", last.LeadNumber)
}

func TestUpdateTemperatureByActivity(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)
	l = env.adjust(t, l.ID, 20)
	require.Equal(t, 20, l.Temperature)
	require.Equal(t, domain.StatusCold, l.TemperatureStatus)

	res, err := env.Engine.UpdateTemperature(env.Ctx, engine.TemperatureUpdate{LeadID: l.ID, ActivityType: "meeting_scheduled", Reason: "demo booked"})
	require.NoError(t, err)
	assert.Equal(t, 40, res.Lead.Temperature)
	assert.Equal(t, domain.StatusWarm, res.Lead.TemperatureStatus)
	assert.Equal(t, 18, res.Lead.Probability)
	assert.Equal(t, 20, res.Change.FromValue)
	assert.Equal(t, 40, res.Change.ToValue)
	assert.Equal(t, domain.StatusCold, res.Change.FromStatus)
	assert.Equal(t, domain.StatusWarm, res.Change.ToStatus)
	assert.Equal(t, "meeting_scheduled", res.Change.TriggerEvent)

	history, err := env.Engine.TemperatureHistory(env.Ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "manual_adjustment", history[0].TriggerEvent)
	assert.Equal(t, "demo booked", history[1].Reason)
}

func TestUpdateTemperatureClampsAndValidates(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)

	l = env.adjust(t, l.ID, 95)
	l = env.adjust(t, l.ID, 20)
	assert.Equal(t, 100, l.Temperature)
	assert.Equal(t, domain.StatusCritical, l.TemperatureStatus)

	l = env.adjust(t, l.ID, -1000)
	assert.Equal(t, -20, l.Temperature)
	assert.Equal(t, domain.StatusCold, l.TemperatureStatus)

	res, err := env.Engine.UpdateTemperature(env.Ctx, engine.TemperatureUpdate{LeadID: l.ID, ActivityType: "fax_sent"})
	require.NoError(t, err)
	assert.Equal(t, -20, res.Lead.Temperature)
	assert.Equal(t, 0, res.Change.ToValue-res.Change.FromValue)

	_, err = env.Engine.UpdateTemperature(env.Ctx, engine.TemperatureUpdate{LeadID: l.ID})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.Engine.UpdateTemperature(env.Ctx, engine.TemperatureUpdate{LeadID: "missing", ActivityType: "phone_call"})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestLogActivityAppliesImpact(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)

	res, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{
		LeadID:         l.ID,
		Type:           "site_visit",
		Subject:        "Plant walkthrough",
		NextAction:     "send quote",
		NextActionDate: "2025-03-14",
		ActorID:        "sales-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Activity.TemperatureImpact)
	assert.Equal(t, 30, res.Lead.Temperature)
	assert.Equal(t, domain.StatusWarm, res.Lead.TemperatureStatus)
	require.NotNil(t, res.Change)

	acts, err := env.Engine.ListActivities(env.Ctx, l.ID, 0)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "send quote", acts[0].NextAction)

	_, err = env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: l.ID, Type: "phone_call", NextActionDate: "next week"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "next_action_date", verr.Field)
}

func TestMoveStageForwardBonus(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealSupply)
	l = env.adjust(t, l.ID, 50)

	moved, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageNegotiation, SubStage: "pricing"})
	require.NoError(t, err)
	assert.Equal(t, domain.StageNegotiation, moved.Stage)
	assert.Equal(t, "pricing", moved.SubStage)
	assert.Equal(t, 60, moved.Temperature)
	assert.Equal(t, domain.StatusHot, moved.TemperatureStatus)
	assert.Equal(t, 74, moved.Probability)

	env.advance(time.Hour)
	back, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageLead})
	require.NoError(t, err)
	assert.Equal(t, 60, back.Temperature)
	assert.Equal(t, env.clock.Format(time.RFC3339), back.StageEnteredAt)
	assert.Equal(t, 26, back.Probability)

	acts, err := env.Engine.ListActivities(env.Ctx, l.ID, 0)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, 10, acts[0].TemperatureImpact)
	assert.Equal(t, 0, acts[1].TemperatureImpact)
	assert.Equal(t, "stage_change", acts[1].Type)
}

func TestMoveStageClampsBonus(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)
	env.adjust(t, l.ID, 95)
	moved, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageQualified})
	require.NoError(t, err)
	assert.Equal(t, 100, moved.Temperature)
}

func TestMoveStageRejectsTerminalTargets(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)

	_, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageWon})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: "archived"})
	require.ErrorAs(t, err, &verr)
}

func TestMarkWon(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealSupplyApply)
	env.adjust(t, l.ID, -10)

	won, err := env.Engine.MarkWon(env.Ctx, engine.WonInput{LeadID: l.ID, FinalValue: 250000, PONumber: "PO-77"})
	require.NoError(t, err)
	assert.Equal(t, domain.StageWon, won.Stage)
	assert.Equal(t, 100, won.Temperature)
	assert.Equal(t, domain.StatusCritical, won.TemperatureStatus)
	assert.Equal(t, 100, won.Probability)
	assert.Equal(t, "po_pending", won.AfterSalesStatus)
	require.NotNil(t, won.FinalValue)
	assert.Equal(t, 250000.0, *won.FinalValue)
	assert.NotEmpty(t, won.WonDate)
	assert.Equal(t, won.WonDate, won.ActualCloseDate)

	as, err := env.Engine.AfterSales(env.Ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "PO-77", as.PONumber)

	_, err = env.Engine.MarkWon(env.Ctx, engine.WonInput{LeadID: l.ID, FinalValue: 1})
	require.ErrorIs(t, err, engine.ErrTerminalStage)
	_, err = env.Engine.MarkLost(env.Ctx, engine.LostInput{LeadID: l.ID, Reason: "changed mind"})
	require.ErrorIs(t, err, engine.ErrTerminalStage)
	_, err = env.Engine.UpdateTemperature(env.Ctx, engine.TemperatureUpdate{LeadID: l.ID, ActivityType: "phone_call"})
	require.ErrorIs(t, err, engine.ErrTerminalStage)
	_, err = env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageLead})
	require.ErrorIs(t, err, engine.ErrTerminalStage)

	res, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: l.ID, Type: "negative_response"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Activity.TemperatureImpact)
	assert.Nil(t, res.Change)
	assert.Equal(t, 100, res.Lead.Temperature)
}

func TestMarkLostFromClosing(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)
	_, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageClosing})
	require.NoError(t, err)
	env.adjust(t, l.ID, 70)

	lost, err := env.Engine.MarkLost(env.Ctx, engine.LostInput{LeadID: l.ID, Reason: "price_too_high", Competitor: "Globex"})
	require.NoError(t, err)
	assert.Equal(t, domain.StageLost, lost.Stage)
	assert.Equal(t, -20, lost.Temperature)
	assert.Equal(t, domain.StatusCold, lost.TemperatureStatus)
	assert.Equal(t, 0, lost.Probability)
	assert.Equal(t, "price_too_high", lost.LostReason)
	assert.Equal(t, "Globex", lost.LostCompetitor)

	history, err := env.Engine.TemperatureHistory(env.Ctx, l.ID)
	require.NoError(t, err)
	final := history[len(history)-1]
	assert.Equal(t, 80, final.FromValue)
	assert.Equal(t, -20, final.ToValue)
	assert.Equal(t, "deal_lost", final.TriggerEvent)

	_, err = env.Engine.MarkLost(env.Ctx, engine.LostInput{LeadID: l.ID})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestApplyCooling(t *testing.T) {
	t.Run("qualified idle eight days", func(t *testing.T) {
		env := newTestEnv(t, nil)
		l := env.createLead(t, domain.DealApply)
		_, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageQualified})
		require.NoError(t, err)
		env.advance(8 * 24 * time.Hour)

		res, err := env.Engine.ApplyCooling(env.Ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, res.Cooled)
		assert.Equal(t, 8, res.IdleDays)
		assert.Equal(t, -20, res.Delta)
		assert.Equal(t, -10, res.To)

		history, err := env.Engine.TemperatureHistory(env.Ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TriggerAutoCooling, history[len(history)-1].TriggerEvent)
	})

	t.Run("no activity is skipped", func(t *testing.T) {
		env := newTestEnv(t, nil)
		l := env.createLead(t, domain.DealApply)
		env.advance(30 * 24 * time.Hour)
		res, err := env.Engine.ApplyCooling(env.Ctx, l.ID)
		require.NoError(t, err)
		assert.False(t, res.Cooled)
		assert.Equal(t, engine.SkipNoActivity, res.SkipReason)
	})

	t.Run("within threshold is unchanged", func(t *testing.T) {
		env := newTestEnv(t, nil)
		l := env.createLead(t, domain.DealApply)
		_, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: l.ID, Type: "phone_call"})
		require.NoError(t, err)
		env.advance(2 * 24 * time.Hour)
		res, err := env.Engine.ApplyCooling(env.Ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.SkipWithinThreshold, res.SkipReason)
		got, err := env.Engine.GetLead(env.Ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Temperature)
	})

	t.Run("floor is a no-op", func(t *testing.T) {
		env := newTestEnv(t, nil)
		l := env.createLead(t, domain.DealApply)
		_, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: l.ID, Type: "no_response"})
		require.NoError(t, err)
		env.adjust(t, l.ID, -100)
		env.advance(10 * 24 * time.Hour)
		res, err := env.Engine.ApplyCooling(env.Ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.SkipAtFloor, res.SkipReason)
	})
}

func TestCoolingSweep(t *testing.T) {
	env := newTestEnv(t, nil)
	idle := env.createLead(t, domain.DealApply)
	_, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: idle.ID, Type: "phone_call"})
	require.NoError(t, err)
	silent := env.createLead(t, domain.DealApply)
	closed := env.createLead(t, domain.DealApply)
	_, err = env.Engine.MarkWon(env.Ctx, engine.WonInput{LeadID: closed.ID, FinalValue: 10})
	require.NoError(t, err)

	env.advance(5 * 24 * time.Hour)
	report, err := env.Engine.CoolingSweep(env.Ctx, engine.SweepOptions{Concurrency: 3, RatePerSecond: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Cooled)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failed)

	got, err := env.Engine.GetLead(env.Ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, -20, got.Temperature)
	got, err = env.Engine.GetLead(env.Ctx, silent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Temperature)
	got, err = env.Engine.GetLead(env.Ctx, closed.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Temperature)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "sweep.completed"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
}

func TestCoolingSweepOncePerDay(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealApply)
	_, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: l.ID, Type: "site_visit"})
	require.NoError(t, err)
	env.advance(3 * 24 * time.Hour)

	temperature := func() int {
		got, err := env.Engine.GetLead(env.Ctx, l.ID)
		require.NoError(t, err)
		return got.Temperature
	}

	report, err := env.Engine.CoolingSweep(env.Ctx, engine.SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cooled)
	assert.Equal(t, 20, temperature())

	for i := 0; i < 2; i++ {
		env.advance(time.Hour)
		report, err = env.Engine.CoolingSweep(env.Ctx, engine.SweepOptions{})
		require.NoError(t, err)
		assert.Equal(t, 0, report.Cooled)
		require.Len(t, report.Results, 1)
		assert.Equal(t, engine.SkipCooledToday, report.Results[0].SkipReason)
		assert.Equal(t, 20, temperature())
	}

	// Four idle days the next morning: 10 per day past the three-day threshold.
	env.advance(22 * time.Hour)
	res, err := env.Engine.ApplyCooling(env.Ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, res.Cooled)
	assert.Equal(t, -20, res.Delta)
	assert.Equal(t, 0, temperature())

	history, err := env.Engine.TemperatureHistory(env.Ctx, l.ID)
	require.NoError(t, err)
	var cooling int
	for _, c := range history {
		if c.TriggerEvent == domain.TriggerAutoCooling {
			cooling++
		}
	}
	assert.Equal(t, 2, cooling)
}

func TestUpdateLeadStaleWrite(t *testing.T) {
	env := newTestEnv(t, nil)
	l := env.createLead(t, domain.DealSupply)
	stale, err := env.Engine.Repo.GetLead(env.Ctx, l.ID)
	require.NoError(t, err)

	env.adjust(t, l.ID, 15)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	stale.Temperature = 99
	err = env.Engine.Repo.UpdateLeadTx(env.Ctx, tx, &stale)
	require.True(t, errors.Is(err, repo.ErrStaleWrite))
	require.NoError(t, tx.Rollback())

	got, err := env.Engine.GetLead(env.Ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.Temperature)
	assert.Equal(t, stale.Version+1, got.Version)
}

func TestCoolingSweepCancelled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createLead(t, domain.DealApply)
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	_, err := env.Engine.CoolingSweep(ctx, engine.SweepOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInjectedPolicy(t *testing.T) {
	p := config.Default()
	p.ForwardBonus = 3
	p.Impacts["webinar"] = 12
	env := newTestEnv(t, p)
	l := env.createLead(t, domain.DealApply)

	res, err := env.Engine.LogActivity(env.Ctx, engine.ActivityInput{LeadID: l.ID, Type: "webinar"})
	require.NoError(t, err)
	assert.Equal(t, 12, res.Lead.Temperature)

	moved, err := env.Engine.MoveStage(env.Ctx, engine.StageMove{LeadID: l.ID, Stage: domain.StageQualified})
	require.NoError(t, err)
	assert.Equal(t, 15, moved.Temperature)
}

func TestPipelineSummary(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createLead(t, domain.DealApply)
	env.createLead(t, domain.DealApply)
	won := env.createLead(t, domain.DealApply)
	_, err := env.Engine.MarkWon(env.Ctx, engine.WonInput{LeadID: won.ID, FinalValue: 1})
	require.NoError(t, err)

	summary, err := env.Engine.PipelineSummary(env.Ctx)
	require.NoError(t, err)
	require.Len(t, summary, 6)
	assert.Equal(t, domain.StageLead, summary[0].Stage)
	assert.Equal(t, 2, summary[0].Count)
	assert.InDelta(t, 300000.0, summary[0].TotalValue, 0.01)
	assert.InDelta(t, 30000.0, summary[0].WeightedValue, 0.01)
	assert.Equal(t, 1, summary[4].Count)
}
