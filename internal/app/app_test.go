package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/config"
	"leadline/internal/repo"
)

func TestOpenSeedsDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer rt.Close()

	stored, err := rt.Engine.Repo.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Impacts, stored.Impacts)
	assert.Equal(t, config.Default().Temperature, rt.Engine.Scoring.Policy().Temperature)
}

func TestStoredPolicyWins(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	rt, err := Open(ctx, Options{Workspace: ws})
	require.NoError(t, err)
	custom := config.Default()
	custom.Impacts["demo"] = 40
	require.NoError(t, rt.Engine.Repo.UpsertPolicy(ctx, custom))
	require.NoError(t, rt.Close())

	rt, err = Open(ctx, Options{Workspace: ws})
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, 40, rt.Policy.Impacts["demo"])
}

func TestPolicyFileOverridesWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("forward_bonus: 9\n"), 0o644))

	rt, err := Open(ctx, Options{Workspace: ws, PolicyFile: file})
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, 9, rt.Policy.ForwardBonus)

	_, err = rt.Engine.Repo.GetPolicy(ctx)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOpenRejectsBadPolicyFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("temperature: {min: 50, max: 10}\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: t.TempDir(), PolicyFile: file})
	assert.Error(t, err)
}
