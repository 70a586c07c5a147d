// Package scoring holds the pure lead temperature and probability model.
package scoring

import (
	"fmt"
	"math"
	"time"

	"leadline/internal/config"
	"leadline/internal/domain"
)

// Model evaluates a Policy. The zero value is not usable; use New.
type Model struct {
	policy *config.Policy
}

func New(p *config.Policy) Model {
	if p == nil {
		p = config.Default()
	}
	return Model{policy: p}
}

func (m Model) Policy() *config.Policy {
	return m.policy
}

func (m Model) Clamp(t int) int {
	if t < m.policy.Temperature.Min {
		return m.policy.Temperature.Min
	}
	if t > m.policy.Temperature.Max {
		return m.policy.Temperature.Max
	}
	return t
}

// StatusFor maps a temperature to its band. Values above the last band fall
// into the last band.
func (m Model) StatusFor(t int) domain.TemperatureStatus {
	bands := m.policy.Statuses
	for _, b := range bands {
		if t <= b.Max {
			return domain.TemperatureStatus(b.Status)
		}
	}
	return domain.TemperatureStatus(bands[len(bands)-1].Status)
}

// Impact returns the temperature delta for an activity type; unknown types yield 0.
func (m Model) Impact(activityType string) int {
	return m.policy.Impacts[activityType]
}

// Apply adds delta to t and returns the clamped temperature with its status.
func (m Model) Apply(t, delta int) (int, domain.TemperatureStatus) {
	next := m.Clamp(t + delta)
	return next, m.StatusFor(next)
}

// CoolingDelta returns the non-positive delta for a lead idle for days in
// stage, and false when the stage has no rule or the lead is inside its grace period.
func (m Model) CoolingDelta(stage domain.Stage, days int) (int, bool) {
	rule, ok := m.policy.Cooling[string(stage)]
	if !ok || days < rule.ThresholdDays {
		return 0, false
	}
	return -(rule.RatePerDay * (days - rule.ThresholdDays + 1)), true
}

// Probability estimates the close probability for the given inputs.
func (m Model) Probability(stage domain.Stage, temperature int, dealType domain.DealType) int {
	base := float64(m.policy.StageProbability[string(stage)])
	bonus := math.Floor(float64(temperature)/10) * 2
	factor, ok := m.policy.DealTypeFactors[string(dealType)]
	if !ok {
		factor = 1.0
	}
	p := int(math.Round((base + bonus) * factor))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// IsForward reports whether to sits later than from in the stage order.
// Stages outside the order (lost) are never forward.
func (m Model) IsForward(from, to domain.Stage) bool {
	fi, ti := -1, -1
	for i, s := range m.policy.StageOrder {
		if s == string(from) {
			fi = i
		}
		if s == string(to) {
			ti = i
		}
	}
	if fi < 0 || ti < 0 {
		return false
	}
	return ti > fi
}

// ForwardBonus is the temperature bonus applied on a forward stage move.
func (m Model) ForwardBonus() int {
	return m.policy.ForwardBonus
}

// DaysSince returns the whole days elapsed between then and now.
func DaysSince(now, then time.Time) int {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

var monthAbbr = [12]string{"JAN", "FEB", "MAR", "APR", "MEI", "JUN", "JUL", "AGU", "SEP", "OKT", "NOV", "DES"}

// MonthStart returns the first instant of now's calendar month in the policy timezone.
func (m Model) MonthStart(now time.Time) time.Time {
	loc, err := m.policy.Location()
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// DayStart returns midnight of now's calendar day in the policy timezone.
func (m Model) DayStart(now time.Time) time.Time {
	loc, err := m.policy.Location()
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// LeadNumber formats the lead number for the seq-th lead of now's month.
func (m Model) LeadNumber(now time.Time, seq int) string {
	start := m.MonthStart(now)
	return fmt.Sprintf("%s/%02d/%s/%05d", m.policy.LeadNumber.Prefix, start.Year()%100, monthAbbr[start.Month()-1], seq)
}
