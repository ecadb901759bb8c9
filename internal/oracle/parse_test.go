package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObjectFromSurroundingProse(t *testing.T) {
	raw := `Let me think about this carefully.
	{"action_type": "diplomatic", "summary": "Call for {urgent} talks about \"borders\""}
	That is my final answer.`

	span, err := ExtractObject(raw)
	require.NoError(t, err)
	assert.Contains(t, span, `"action_type"`)

	// Braces inside string literals must not unbalance the scan.
	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, `Call for {urgent} talks about "borders"`, d.Summary)
}

func TestExtractObjectErrors(t *testing.T) {
	_, err := ExtractObject("no json here at all")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ExtractObject(`{"summary": "truncated`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseDecisionDefaultsPublic(t *testing.T) {
	d, err := ParseDecision(`{"action_type": "economic", "summary": "Open trade"}`)
	require.NoError(t, err)
	assert.True(t, d.IsPublic)

	d, err = ParseDecision(`{"action_type": "intelligence", "summary": "Infiltrate", "is_public": false}`)
	require.NoError(t, err)
	assert.False(t, d.IsPublic)
}

func TestParseDecisionSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing summary":     `{"action_type": "economic"}`,
		"missing action type": `{"summary": "Open trade"}`,
		"empty action type":   `{"action_type": "", "summary": "Open trade"}`,
		"wrong summary type":  `{"action_type": "economic", "summary": 42}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDecision(raw)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseDecisionKeepsUnknownActionType(t *testing.T) {
	// Unknown types pass the schema; coercion is the engine's business.
	d, err := ParseDecision(`{"action_type": "interpretive_dance", "summary": "A performance"}`)
	require.NoError(t, err)
	assert.Equal(t, "interpretive_dance", d.ActionType)
}

func TestParseResolutionsCleanArray(t *testing.T) {
	raw := `Resolutions below:
	[{"event_id": "e1", "outcome": "Talks succeeded"},
	 {"event_id": "e2", "outcome": "Raid repelled"}]`

	out, err := ParseResolutions(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].EventID)
	assert.Equal(t, "Raid repelled", out[1].Outcome)
}

func TestParseResolutionsRepairsMissingContainer(t *testing.T) {
	// No array at all: scattered objects get re-wrapped.
	raw := `{"event_id": "e1", "outcome": "Done"} and also {"event_id": "e2", "outcome": "Failed"}`

	out, err := ParseResolutions(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e2", out[1].EventID)
}

func TestParseResolutionsRepairsObjectWrapper(t *testing.T) {
	raw := `{"resolutions": [{"event_id": "e1", "outcome": "Done"}]}`

	out, err := ParseResolutions(raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "e1", out[0].EventID)
}

func TestParseResolutionsFailsAfterRepair(t *testing.T) {
	_, err := ParseResolutions("nothing structured whatsoever")
	assert.ErrorIs(t, err, ErrMalformed)

	// Objects exist but violate the schema even after repair.
	_, err = ParseResolutions(`[{"event_id": "e1"}]`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRepairArrayCollectsBalancedObjects(t *testing.T) {
	raw := `[{"event_id": "e1", "outcome": "one"} {"event_id": "e2", "outcome": "two"}`
	repaired, err := RepairArray(raw)
	require.NoError(t, err)
	assert.Equal(t, `[{"event_id": "e1", "outcome": "one"},{"event_id": "e2", "outcome": "two"}]`, repaired)

	_, err = RepairArray("no objects")
	assert.ErrorIs(t, err, ErrMalformed)
}
