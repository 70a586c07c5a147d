package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
	"leadline/internal/scoring"
)

// Reasons a lead is left untouched by the cooling sweep.
const (
	SkipTerminal        = "terminal"
	SkipNoActivity      = "no_activity"
	SkipWithinThreshold = "within_threshold"
	SkipAtFloor         = "at_floor"
	SkipCooledToday     = "cooled_today"
)

// CoolingResult describes what the sweep did to a single lead.
type CoolingResult struct {
	LeadID     string `json:"lead_id"`
	LeadNumber string `json:"lead_number"`
	Cooled     bool   `json:"cooled"`
	IdleDays   int    `json:"idle_days"`
	Delta      int    `json:"delta"`
	From       int    `json:"from"`
	To         int    `json:"to"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// ApplyCooling decays one lead's temperature when it has been idle past its
// stage threshold. Leads without any activity are never cooled, and a lead
// is cooled at most once per calendar day in the policy timezone.
func (e Engine) ApplyCooling(ctx context.Context, leadID string) (CoolingResult, error) {
	now := e.now()
	at := stamp(now)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CoolingResult{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return CoolingResult{}, err
	}
	res := CoolingResult{LeadID: l.ID, LeadNumber: l.LeadNumber, From: l.Temperature, To: l.Temperature}
	if l.Stage.Terminal() {
		res.SkipReason = SkipTerminal
		return res, nil
	}
	last, err := e.Repo.LatestActivityTx(ctx, tx, l.ID)
	if errors.Is(err, repo.ErrNotFound) {
		res.SkipReason = SkipNoActivity
		return res, nil
	}
	if err != nil {
		return CoolingResult{}, fmt.Errorf("latest activity: %w", err)
	}
	lastAt, err := time.Parse(time.RFC3339, last.CreatedAt)
	if err != nil {
		return CoolingResult{}, fmt.Errorf("activity %s timestamp: %w", last.ID, err)
	}
	res.IdleDays = scoring.DaysSince(now, lastAt)
	delta, ok := e.Scoring.CoolingDelta(l.Stage, res.IdleDays)
	if !ok {
		res.SkipReason = SkipWithinThreshold
		return res, nil
	}
	if l.Temperature <= e.Scoring.Policy().Temperature.Min {
		res.SkipReason = SkipAtFloor
		return res, nil
	}
	cooled, err := e.Repo.HasTemperatureChangeSinceTx(ctx, tx, l.ID, domain.TriggerAutoCooling, stamp(e.Scoring.DayStart(now)))
	if err != nil {
		return CoolingResult{}, fmt.Errorf("cooling history: %w", err)
	}
	if cooled {
		res.SkipReason = SkipCooledToday
		return res, nil
	}
	change := e.shiftTemperature(&l, tempShift{
		Delta:   delta,
		Trigger: domain.TriggerAutoCooling,
		Reason:  fmt.Sprintf("idle %d days in %s", res.IdleDays, l.Stage),
		ActorID: systemActor,
	}, at)
	if err := e.Repo.UpdateLeadTx(ctx, tx, &l); err != nil {
		return CoolingResult{}, fmt.Errorf("update lead: %w", err)
	}
	if err := e.saveTemperatureTx(ctx, tx, change); err != nil {
		return CoolingResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CoolingResult{}, err
	}
	res.Cooled = true
	res.Delta = change.ToValue - change.FromValue
	res.To = l.Temperature
	e.Metrics.TemperatureUpdated(domain.TriggerAutoCooling)
	return res, nil
}

// SweepOptions bound the sweep's fan-out.
type SweepOptions struct {
	// Concurrency caps in-flight leads; 0 means 4.
	Concurrency int
	// RatePerSecond throttles lead updates; 0 disables throttling.
	RatePerSecond float64
}

type SweepFailure struct {
	LeadID string `json:"lead_id"`
	Error  string `json:"error"`
}

type SweepReport struct {
	StartedAt string          `json:"started_at"`
	Duration  string          `json:"duration"`
	Scanned   int             `json:"scanned"`
	Cooled    int             `json:"cooled"`
	Skipped   int             `json:"skipped"`
	Failed    []SweepFailure  `json:"failed,omitempty"`
	Results   []CoolingResult `json:"results"`
}

// CoolingSweep applies ApplyCooling to every lead in an open stage. Per-lead
// failures are collected in the report; only context cancellation aborts the run.
func (e Engine) CoolingSweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	started := time.Now()
	report := SweepReport{StartedAt: stamp(e.now())}
	leads, err := e.Repo.ListLeadsByStages(ctx, domain.OpenStages)
	if err != nil {
		return report, fmt.Errorf("list leads: %w", err)
	}
	report.Scanned = len(leads)

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, l := range leads {
		lead := l
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			res, err := e.ApplyCooling(gctx, lead.ID)
			if errors.Is(err, repo.ErrStaleWrite) {
				res, err = e.ApplyCooling(gctx, lead.ID)
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log().Warn("cooling failed", "lead_id", lead.ID, "err", err)
				report.Failed = append(report.Failed, SweepFailure{LeadID: lead.ID, Error: err.Error()})
				return nil
			}
			report.Results = append(report.Results, res)
			if res.Cooled {
				report.Cooled++
			} else {
				report.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].LeadNumber < report.Results[j].LeadNumber })
	elapsed := time.Since(started)
	report.Duration = elapsed.String()

	if err := e.recordSweep(ctx, report); err != nil {
		return report, err
	}
	e.Metrics.SweepFinished(elapsed.Seconds(), report.Cooled, report.Skipped, len(report.Failed))
	e.log().Info("cooling sweep finished", "scanned", report.Scanned, "cooled", report.Cooled, "skipped", report.Skipped, "failed", len(report.Failed))
	return report, nil
}

func (e Engine) recordSweep(ctx context.Context, r SweepReport) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.events().Append(ctx, tx, events.SweepCompleted, "sweep", "", systemActor, events.EventPayload{
		"scanned": r.Scanned,
		"cooled":  r.Cooled,
		"skipped": r.Skipped,
		"failed":  len(r.Failed),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
