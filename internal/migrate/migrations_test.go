package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"leadline/internal/db"
	"leadline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, migrate.Migrate(ctx, conn, db.SQLite))
	require.NoError(t, migrate.Migrate(ctx, conn, db.SQLite))

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	for _, table := range []string{"leads", "lead_activities", "temperature_changes", "after_sales", "events", "policy"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrateUnknownDriver(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Error(t, migrate.Migrate(context.Background(), conn, db.Driver("oracle")))
}
