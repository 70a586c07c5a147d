package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"leadline/internal/db"
	"leadline/internal/domain"
)

type Repo struct {
	DB     *sql.DB
	Driver db.Driver
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleWrite is returned when a lead changed between read and write.
	ErrStaleWrite = errors.New("lead was modified concurrently")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) sb() sq.StatementBuilderType {
	return r.Driver.Builder()
}

func exec(ctx context.Context, q querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func queryRows(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

func queryRow(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

var leadColumns = []string{
	"id", "lead_number", "company_name",
	"COALESCE(contact_name,'')", "COALESCE(contact_phone,'')", "COALESCE(contact_email,'')",
	"COALESCE(source,'')", "COALESCE(notes,'')",
	"deal_type", "stage", "COALESCE(sub_stage,'')",
	"temperature", "temperature_status", "probability", "estimated_value", "stage_entered_at",
	"COALESCE(won_date,'')", "COALESCE(lost_date,'')", "COALESCE(lost_reason,'')",
	"COALESCE(lost_competitor,'')", "COALESCE(lost_notes,'')", "final_value",
	"COALESCE(po_number,'')", "COALESCE(after_sales_status,'')", "COALESCE(actual_close_date,'')",
	"created_by", "created_at", "updated_at", "version",
}

func scanLead(row scanner) (domain.Lead, error) {
	var l domain.Lead
	var finalValue sql.NullFloat64
	err := row.Scan(&l.ID, &l.LeadNumber, &l.CompanyName,
		&l.ContactName, &l.ContactPhone, &l.ContactEmail,
		&l.Source, &l.Notes,
		&l.DealType, &l.Stage, &l.SubStage,
		&l.Temperature, &l.TemperatureStatus, &l.Probability, &l.EstimatedValue, &l.StageEnteredAt,
		&l.WonDate, &l.LostDate, &l.LostReason,
		&l.LostCompetitor, &l.LostNotes, &finalValue,
		&l.PONumber, &l.AfterSalesStatus, &l.ActualCloseDate,
		&l.CreatedBy, &l.CreatedAt, &l.UpdatedAt, &l.Version)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if finalValue.Valid {
		v := finalValue.Float64
		l.FinalValue = &v
	}
	return l, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) InsertLeadTx(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	if l.Version == 0 {
		l.Version = 1
	}
	_, err := exec(ctx, tx, r.sb().Insert("leads").
		Columns("id", "lead_number", "company_name", "contact_name", "contact_phone", "contact_email",
			"source", "notes", "deal_type", "stage", "sub_stage", "temperature", "temperature_status",
			"probability", "estimated_value", "stage_entered_at", "created_by", "created_at", "updated_at", "version").
		Values(l.ID, l.LeadNumber, l.CompanyName, nullable(l.ContactName), nullable(l.ContactPhone), nullable(l.ContactEmail),
			nullable(l.Source), nullable(l.Notes), l.DealType, l.Stage, nullable(l.SubStage), l.Temperature, l.TemperatureStatus,
			l.Probability, l.EstimatedValue, l.StageEnteredAt, l.CreatedBy, l.CreatedAt, l.UpdatedAt, l.Version))
	return err
}

// UpdateLeadTx writes every mutable column of l, guarded by l.Version. On
// success l.Version is advanced; a concurrent writer yields ErrStaleWrite.
func (r Repo) UpdateLeadTx(ctx context.Context, tx *sql.Tx, l *domain.Lead) error {
	res, err := exec(ctx, tx, r.sb().Update("leads").
		Set("stage", l.Stage).
		Set("sub_stage", nullable(l.SubStage)).
		Set("temperature", l.Temperature).
		Set("temperature_status", l.TemperatureStatus).
		Set("probability", l.Probability).
		Set("stage_entered_at", l.StageEnteredAt).
		Set("won_date", nullable(l.WonDate)).
		Set("lost_date", nullable(l.LostDate)).
		Set("lost_reason", nullable(l.LostReason)).
		Set("lost_competitor", nullable(l.LostCompetitor)).
		Set("lost_notes", nullable(l.LostNotes)).
		Set("final_value", nullableFloatPtr(l.FinalValue)).
		Set("po_number", nullable(l.PONumber)).
		Set("after_sales_status", nullable(l.AfterSalesStatus)).
		Set("actual_close_date", nullable(l.ActualCloseDate)).
		Set("updated_at", l.UpdatedAt).
		Set("version", l.Version+1).
		Where(sq.Eq{"id": l.ID, "version": l.Version}))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleWrite
	}
	l.Version++
	return nil
}

func (r Repo) getLead(ctx context.Context, q querier, id string) (domain.Lead, error) {
	row, err := queryRow(ctx, q, r.sb().Select(leadColumns...).From("leads").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Lead{}, err
	}
	return scanLead(row)
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return r.getLead(ctx, r.DB, id)
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	return r.getLead(ctx, tx, id)
}

// GetLeadByNumber resolves a lead by its lead number.
func (r Repo) GetLeadByNumber(ctx context.Context, number string) (domain.Lead, error) {
	row, err := queryRow(ctx, r.DB, r.sb().Select(leadColumns...).From("leads").Where(sq.Eq{"lead_number": number}))
	if err != nil {
		return domain.Lead{}, err
	}
	return scanLead(row)
}

type LeadFilters struct {
	Stages   []domain.Stage
	Status   domain.TemperatureStatus
	DealType domain.DealType
	Limit    int
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	q := r.sb().Select(leadColumns...).From("leads").OrderBy("created_at DESC", "id")
	if len(f.Stages) > 0 {
		stages := make([]string, len(f.Stages))
		for i, s := range f.Stages {
			stages[i] = string(s)
		}
		q = q.Where(sq.Eq{"stage": stages})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"temperature_status": f.Status})
	}
	if f.DealType != "" {
		q = q.Where(sq.Eq{"deal_type": f.DealType})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	rows, err := queryRows(ctx, r.DB, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ListLeadsByStages returns every lead currently in one of stages.
func (r Repo) ListLeadsByStages(ctx context.Context, stages []domain.Stage) ([]domain.Lead, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	return r.ListLeads(ctx, LeadFilters{Stages: stages})
}

// CountLeadsCreatedSinceTx counts leads whose created_at is at or after since (RFC3339 UTC).
func (r Repo) CountLeadsCreatedSinceTx(ctx context.Context, tx *sql.Tx, since string) (int, error) {
	row, err := queryRow(ctx, tx, r.sb().Select("COUNT(*)").From("leads").Where(sq.GtOrEq{"created_at": since}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// PipelineSummary aggregates lead value per stage.
func (r Repo) PipelineSummary(ctx context.Context) ([]domain.StageSummary, error) {
	rows, err := queryRows(ctx, r.DB, r.sb().
		Select("stage", "COUNT(*)", "COALESCE(SUM(estimated_value),0)", "COALESCE(SUM(estimated_value * probability / 100.0),0)").
		From("leads").GroupBy("stage"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byStage := map[domain.Stage]domain.StageSummary{}
	for rows.Next() {
		var s domain.StageSummary
		if err := rows.Scan(&s.Stage, &s.Count, &s.TotalValue, &s.WeightedValue); err != nil {
			return nil, err
		}
		byStage[s.Stage] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	order := []domain.Stage{domain.StageLead, domain.StageQualified, domain.StageNegotiation, domain.StageClosing, domain.StageWon, domain.StageLost}
	res := make([]domain.StageSummary, 0, len(order))
	for _, stage := range order {
		s, ok := byStage[stage]
		if !ok {
			s = domain.StageSummary{Stage: stage}
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) InsertAfterSalesTx(ctx context.Context, tx *sql.Tx, a domain.AfterSales) error {
	_, err := exec(ctx, tx, r.sb().Insert("after_sales").
		Columns("id", "lead_id", "status", "po_number", "final_value", "created_at").
		Values(a.ID, a.LeadID, a.Status, nullable(a.PONumber), a.FinalValue, a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert after-sales: %w", err)
	}
	return nil
}

func (r Repo) GetAfterSales(ctx context.Context, leadID string) (domain.AfterSales, error) {
	row, err := queryRow(ctx, r.DB, r.sb().
		Select("id", "lead_id", "status", "COALESCE(po_number,'')", "final_value", "created_at").
		From("after_sales").Where(sq.Eq{"lead_id": leadID}))
	if err != nil {
		return domain.AfterSales{}, err
	}
	var a domain.AfterSales
	err = row.Scan(&a.ID, &a.LeadID, &a.Status, &a.PONumber, &a.FinalValue, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}
