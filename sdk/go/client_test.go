package leadlinesdk_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/db"
	"leadline/internal/engine"
	"leadline/internal/migrate"
	"leadline/internal/server"
	leadlinesdk "leadline/sdk/go"
)

func newClient(t *testing.T) *leadlinesdk.Client {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn, db.SQLite))

	handler, err := server.New(server.Config{
		Engine: engine.New(conn, db.SQLite, nil),
		Auth:   server.AuthConfig{AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := leadlinesdk.New(srv.URL)
	c.ActorID = "sdk-tester"
	return c
}

func TestClientLeadFlow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	lead, err := c.CreateLead(ctx, leadlinesdk.CreateLeadRequest{
		CompanyName: "CV Tirta", DealType: "supply_apply", EstimatedValue: 120000,
	})
	require.NoError(t, err)
	assert.Equal(t, "lead", lead.Stage)
	assert.Equal(t, "sdk-tester", lead.CreatedBy)

	res, err := c.LogActivity(ctx, lead.ID, leadlinesdk.ActivityRequest{Type: "quote_sent"})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Lead.Temperature)
	require.NotNil(t, res.Change)

	tr, err := c.AdjustTemperature(ctx, lead.ID, -40, "went quiet")
	require.NoError(t, err)
	assert.Equal(t, -15, tr.Lead.Temperature)
	assert.Equal(t, "cold", tr.Lead.TemperatureStatus)

	moved, err := c.MoveStage(ctx, lead.ID, "qualified", "")
	require.NoError(t, err)
	assert.Equal(t, "qualified", moved.Stage)

	lost, err := c.MarkLost(ctx, lead.ID, "budget", "Rival Corp")
	require.NoError(t, err)
	assert.Equal(t, "lost", lost.Stage)
	assert.Equal(t, -20, lost.Temperature)
	assert.Equal(t, 0, lost.Probability)

	got, err := c.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lost.Version, got.Version)

	history, err := c.TemperatureHistory(ctx, lead.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	leads, err := c.ListLeads(ctx, 10, "lost")
	require.NoError(t, err)
	require.Len(t, leads, 1)

	summary, err := c.PipelineSummary(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Stages, 6)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)

	var buf bytes.Buffer
	require.NoError(t, c.ExportPipeline(ctx, &buf))
	assert.Greater(t, buf.Len(), 0)
}

func TestClientAPIError(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	lead, err := c.CreateLead(ctx, leadlinesdk.CreateLeadRequest{CompanyName: "PT Won", DealType: "apply"})
	require.NoError(t, err)
	_, err = c.MarkWon(ctx, lead.ID, 50000, "PO-1")
	require.NoError(t, err)

	_, err = c.AdjustTemperature(ctx, lead.ID, 5, "")
	var apiErr *leadlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "terminal_stage", apiErr.Code)

	_, err = c.GetLead(ctx, "nope")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	c.ActorID = ""
	_, err = c.ListLeads(ctx, 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "unauthorized", apiErr.Code)
}
