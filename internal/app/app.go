package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/engine"
	"leadline/internal/logging"
	"leadline/internal/metrics"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

// Options select the database and policy for a Runtime.
type Options struct {
	Driver    db.Driver
	Workspace string
	DSN       string
	// PolicyFile overrides the stored policy for this process without persisting it.
	PolicyFile string
	Log        logging.Logger
	Metrics    *metrics.Metrics
}

// Runtime owns the database connection behind an Engine.
type Runtime struct {
	Conn   *sql.DB
	Engine engine.Engine
	Policy *config.Policy
}

// Open connects, migrates, resolves the active policy, and builds the engine.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	driver := opts.Driver
	if driver == "" {
		driver = db.SQLite
	}
	conn, err := db.Open(db.Config{Driver: driver, Workspace: opts.Workspace, DSN: opts.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Driver: driver}
	policy, err := ResolvePolicy(ctx, r, opts.PolicyFile)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, driver, policy)
	if opts.Log != nil {
		e.Log = opts.Log
	}
	e.Metrics = opts.Metrics
	return &Runtime{Conn: conn, Engine: e, Policy: policy}, nil
}

func (rt *Runtime) Close() error {
	return rt.Conn.Close()
}

// ResolvePolicy prefers an explicit file, then the stored policy. A database
// without a policy is seeded with config.Default.
func ResolvePolicy(ctx context.Context, r repo.Repo, file string) (*config.Policy, error) {
	if file != "" {
		p, err := config.FromFile(file)
		if err != nil {
			return nil, fmt.Errorf("load policy %s: %w", file, err)
		}
		return p, nil
	}
	p, err := r.GetPolicy(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed := config.Default()
	if err := r.UpsertPolicy(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed policy: %w", err)
	}
	return seed, nil
}
