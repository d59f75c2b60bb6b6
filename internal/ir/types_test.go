package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 7, 5, 9, 123456789, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "2024-03-01T12:05:09.123456Z", FormatTimestamp(ts))
}

func TestParseTimestampRoundTrip(t *testing.T) {
	parsed, err := ParseTimestamp("2024-03-01T12:05:09.123456Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:05:09.123456Z", FormatTimestamp(parsed))

	_, err = ParseTimestamp("2024-03-01 12:05:09")
	require.Error(t, err)
}

func TestCriticalityValid(t *testing.T) {
	assert.True(t, HighAssurance.Valid())
	assert.True(t, BestEffort.Valid())
	assert.False(t, Criticality("critical").Valid())
	assert.False(t, Criticality("").Valid())
}

func TestCanonicalPayloadShape(t *testing.T) {
	payload, err := CanonicalPayload(testEntry())
	require.NoError(t, err)

	expected := `{"actor_id":"gp1","chain_id":"team_42","criticality":"high_assurance",` +
		`"event_type":"FUND_CREATED","idempotency_key":"k1","metadata":{"amount":"100"},` +
		`"metadata_bytes":16,"metadata_hash":"` + MetadataHash([]byte(`{"amount":"100"}`)) + `",` +
		`"metadata_truncated":false,"resource_id":"fund-1","resource_type":"fund",` +
		`"timestamp":"2024-03-01T12:00:00.000000Z"}`
	assert.Equal(t, expected, string(payload))
}

func TestCanonicalPayloadIncludesCorrects(t *testing.T) {
	e := testEntry()
	e.Corrects = GenesisHash
	payload, err := CanonicalPayload(e)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"corrects":"`+GenesisHash+`"`)
}

func TestValidChainID(t *testing.T) {
	for _, ok := range []string{"team_42", "T", "org:acme.fund-1"} {
		assert.True(t, ValidChainID(ok), ok)
	}
	for _, bad := range []string{"", "_team", "team 42", "team/42", string(make([]byte, 129))} {
		assert.False(t, ValidChainID(bad), bad)
	}
}

func TestValidEventType(t *testing.T) {
	assert.True(t, ValidEventType("BAD_ACTOR_CERTIFIED"))
	assert.True(t, ValidEventType("NDA_SIGNED"))
	assert.False(t, ValidEventType("nda_signed"))
	assert.False(t, ValidEventType("1NDA"))
	assert.False(t, ValidEventType(""))
}
