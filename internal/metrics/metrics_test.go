package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.TemperatureUpdated("phone_call")
	m.TemperatureUpdated("phone_call")
	m.StageMoved("lead", "qualified")
	m.DealClosed("won")
	m.SweepFinished(0.2, 3, 1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TemperatureUpdates.WithLabelValues("phone_call")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("lead", "qualified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DealsClosed.WithLabelValues("won")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepLeads.WithLabelValues("cooled")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "leadline_temperature_updates_total"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.TemperatureUpdated("x")
	m.StageMoved("a", "b")
	m.DealClosed("lost")
	m.SweepFinished(1, 0, 0, 0)
}
