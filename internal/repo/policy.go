package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leadline/internal/config"
)

// UpsertPolicy validates and stores the active scoring policy.
func (r Repo) UpsertPolicy(ctx context.Context, p *config.Policy) error {
	if p == nil {
		return fmt.Errorf("policy nil")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := p.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = exec(ctx, r.DB, r.sb().Insert("policy").
		Columns("id", "policy_yaml", "updated_at").
		Values(1, string(payload), now).
		Suffix("ON CONFLICT(id) DO UPDATE SET policy_yaml=excluded.policy_yaml, updated_at=excluded.updated_at"))
	return err
}

// GetPolicy loads the stored policy or ErrNotFound when none was imported.
func (r Repo) GetPolicy(ctx context.Context) (*config.Policy, error) {
	row, err := queryRow(ctx, r.DB, r.sb().Select("policy_yaml").From("policy").Where("id = 1"))
	if err != nil {
		return nil, err
	}
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return config.FromYAML([]byte(payload))
}

// PolicyOrDefault loads the stored policy, falling back to config.Default.
func (r Repo) PolicyOrDefault(ctx context.Context) (*config.Policy, error) {
	p, err := r.GetPolicy(ctx)
	if err == ErrNotFound {
		return config.Default(), nil
	}
	return p, err
}
