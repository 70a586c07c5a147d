package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
)

// NewLead are parameters for creating a lead.
type NewLead struct {
	CompanyName    string          `validate:"required,max=200"`
	ContactName    string          `validate:"max=200"`
	ContactPhone   string          `validate:"max=40"`
	ContactEmail   string          `validate:"omitempty,email"`
	DealType       domain.DealType `validate:"required,oneof=supply apply supply_apply"`
	EstimatedValue float64         `validate:"gte=0"`
	SubStage       string
	Source         string
	Notes          string
	ActorID        string
}

const maxLeadNumberAttempts = 3

// CreateLead opens a new lead at stage lead with temperature 0. The lead
// number is derived from the count of leads created this month.
func (e Engine) CreateLead(ctx context.Context, in NewLead) (domain.Lead, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	if err := checkStruct(in); err != nil {
		return domain.Lead{}, err
	}
	if in.ContactPhone != "" {
		phone, err := e.normalizePhone(in.ContactPhone)
		if err != nil {
			return domain.Lead{}, err
		}
		in.ContactPhone = phone
	}
	var lastErr error
	for attempt := 0; attempt < maxLeadNumberAttempts; attempt++ {
		l, err := e.createLeadOnce(ctx, in)
		if err == nil {
			e.log().Info("lead created", "lead_id", l.ID, "lead_number", l.LeadNumber)
			return l, nil
		}
		if !repo.IsUniqueViolation(err) {
			return domain.Lead{}, err
		}
		lastErr = err
	}
	return domain.Lead{}, fmt.Errorf("allocate lead number: %w", lastErr)
}

func (e Engine) createLeadOnce(ctx context.Context, in NewLead) (domain.Lead, error) {
	now := e.now()
	at := stamp(now)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	count, err := e.Repo.CountLeadsCreatedSinceTx(ctx, tx, stamp(e.Scoring.MonthStart(now)))
	if err != nil {
		return domain.Lead{}, fmt.Errorf("count leads: %w", err)
	}
	temp := e.Scoring.Clamp(0)
	l := domain.Lead{
		ID:                uuid.NewString(),
		LeadNumber:        e.Scoring.LeadNumber(now, count+1),
		CompanyName:       in.CompanyName,
		ContactName:       in.ContactName,
		ContactPhone:      in.ContactPhone,
		ContactEmail:      in.ContactEmail,
		Source:            in.Source,
		Notes:             in.Notes,
		DealType:          in.DealType,
		Stage:             domain.StageLead,
		SubStage:          in.SubStage,
		Temperature:       temp,
		TemperatureStatus: e.Scoring.StatusFor(temp),
		Probability:       e.Scoring.Probability(domain.StageLead, temp, in.DealType),
		EstimatedValue:    in.EstimatedValue,
		StageEnteredAt:    at,
		CreatedBy:         actorOr(in.ActorID),
		CreatedAt:         at,
		UpdatedAt:         at,
		Version:           1,
	}
	if err := e.Repo.InsertLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.LeadCreated, "lead", l.ID, l.CreatedBy, events.EventPayload{
		"lead_number": l.LeadNumber,
		"company":     l.CompanyName,
		"deal_type":   l.DealType,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

func (e Engine) normalizePhone(raw string) (string, error) {
	region := e.Scoring.Policy().PhoneRegion
	if region == "" {
		region = "ID"
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", invalid("contact_phone", "cannot parse %q: %v", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", invalid("contact_phone", "%q is not a valid number", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// GetLead resolves a lead by id or lead number.
func (e Engine) GetLead(ctx context.Context, ref string) (domain.Lead, error) {
	l, err := e.Repo.GetLead(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) && strings.Contains(ref, "/") {
		return e.Repo.GetLeadByNumber(ctx, ref)
	}
	return l, err
}

// resolveID maps a lead number to its id; ids pass through unchanged.
func (e Engine) resolveID(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", invalid("lead_id", "is required")
	}
	if !strings.Contains(ref, "/") {
		return ref, nil
	}
	l, err := e.Repo.GetLeadByNumber(ctx, ref)
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

// LeadQuery filters ListLeads.
type LeadQuery struct {
	Stages   []domain.Stage
	Status   domain.TemperatureStatus
	DealType domain.DealType
	Limit    int
}

func (e Engine) ListLeads(ctx context.Context, q LeadQuery) ([]domain.Lead, error) {
	for _, s := range q.Stages {
		if !s.Valid() {
			return nil, invalid("stage", "unknown stage %q", s)
		}
	}
	if q.DealType != "" && !q.DealType.Valid() {
		return nil, invalid("deal_type", "unknown deal type %q", q.DealType)
	}
	return e.Repo.ListLeads(ctx, repo.LeadFilters{Stages: q.Stages, Status: q.Status, DealType: q.DealType, Limit: q.Limit})
}

func (e Engine) ListActivities(ctx context.Context, ref string, limit int) ([]domain.LeadActivity, error) {
	l, err := e.GetLead(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, l.ID, limit)
}

func (e Engine) TemperatureHistory(ctx context.Context, ref string) ([]domain.TemperatureChange, error) {
	l, err := e.GetLead(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListTemperatureChanges(ctx, l.ID)
}

func (e Engine) PipelineSummary(ctx context.Context) ([]domain.StageSummary, error) {
	return e.Repo.PipelineSummary(ctx)
}

func (e Engine) AfterSales(ctx context.Context, ref string) (domain.AfterSales, error) {
	l, err := e.GetLead(ctx, ref)
	if err != nil {
		return domain.AfterSales{}, err
	}
	return e.Repo.GetAfterSales(ctx, l.ID)
}
