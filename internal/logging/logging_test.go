package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	log.With("lead_id", "abc").Warn("cooling failed", "err", "boom")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "cooling failed", rec["msg"])
	assert.Equal(t, "abc", rec["lead_id"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestNopDiscards(t *testing.T) {
	log := Nop().With("k", "v")
	log.Error("nothing happens")
}
