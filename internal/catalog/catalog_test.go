package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditchain/internal/ir"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ir.BestEffort, c.DefaultCriticality())
	assert.Equal(t, ir.HighAssurance, c.Criticality("FUND_CREATED"))
	assert.Equal(t, ir.HighAssurance, c.Criticality("BAD_ACTOR_CERTIFIED"))
	assert.Equal(t, ir.HighAssurance, c.Criticality("NDA_SIGNED"))
	assert.Equal(t, ir.BestEffort, c.Criticality("DOCUMENT_VIEWED"))

	et, ok := c.Lookup("NDA_SIGNED")
	require.True(t, ok)
	assert.Equal(t, "nda", et.ResourceType)
	assert.NotEmpty(t, et.Description)
}

func TestCriticalityFallsBackToDefault(t *testing.T) {
	c, err := Parse("test.cue", []byte(`
default_criticality: "high_assurance"
event_types: WIRE_SENT: criticality: "best_effort"
`))
	require.NoError(t, err)

	assert.Equal(t, ir.BestEffort, c.Criticality("WIRE_SENT"))
	assert.Equal(t, ir.HighAssurance, c.Criticality("UNKNOWN_EVENT"))
	_, ok := c.Lookup("UNKNOWN_EVENT")
	assert.False(t, ok)
}

func TestParseDefaultsDefaultCriticality(t *testing.T) {
	c, err := Parse("test.cue", []byte(`event_types: A: criticality: "high_assurance"`))
	require.NoError(t, err)
	assert.Equal(t, ir.BestEffort, c.DefaultCriticality())
	assert.Equal(t, []string{"A"}, c.Names())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown criticality", `event_types: X: criticality: "critical"`},
		{"missing criticality", `event_types: X: description: "no criticality"`},
		{"lowercase name", `event_types: wire_sent: criticality: "best_effort"`},
		{"bad default", `default_criticality: "sometimes"`},
		{"syntax error", `event_types: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.cue")
	require.NoError(t, os.WriteFile(path, []byte(`event_types: FUND_CLOSED: criticality: "high_assurance"`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ir.HighAssurance, c.Criticality("FUND_CLOSED"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	names := c.Names()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}
