package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, -20, p.Temperature.Min)
	assert.Equal(t, 100, p.Temperature.Max)
	assert.Equal(t, 20, p.Impacts["meeting_scheduled"])
	assert.Equal(t, CoolingRule{ThresholdDays: 5, RatePerDay: 5}, p.Cooling["qualified"])
	assert.Equal(t, 10, p.ForwardBonus)
	assert.Equal(t, "ID", p.PhoneRegion)
	assert.Len(t, p.ActivityTypes(), 10)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	p, err := FromYAML([]byte("forward_bonus: 5\nimpacts:\n  demo: 40\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, p.ForwardBonus)
	assert.Equal(t, 40, p.Impacts["demo"])
	assert.Equal(t, 10, p.Impacts["phone_call"])
	assert.Equal(t, 75, p.StageProbability["closing"])
}

func TestValidateRejectsBrokenPolicies(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bounds inverted", "temperature:\n  min: 10\n  max: 0\n"},
		{"bands not ascending", "statuses:\n  - {status: cold, max: 50}\n  - {status: warm, max: 25}\n"},
		{"bands do not cover max", "statuses:\n  - {status: cold, max: 25}\n"},
		{"cooling terminal stage", "cooling:\n  won: {threshold_days: 1, rate_per_day: 1}\n"},
		{"cooling unknown stage", "cooling:\n  archived: {threshold_days: 1, rate_per_day: 1}\n"},
		{"probability out of range", "stage_probability:\n  lead: 120\n"},
		{"lost in order", "stage_order: [lead, lost]\n"},
		{"zero factor", "deal_type_factors:\n  apply: 0\n"},
		{"bad timezone", "lead_number:\n  prefix: L\n  timezone: Mars/Olympus\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestFromFileRoundTrip(t *testing.T) {
	p := Default()
	p.LeadNumber.Timezone = "Asia/Jakarta"
	data, err := p.ToYAML()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "leadline.yml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := FromFile(path)
	require.NoError(t, err)
	loc, err := loaded.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}
