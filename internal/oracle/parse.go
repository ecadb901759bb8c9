package oracle

import (
	"encoding/json"
	"fmt"
)

// Decision is one agent's proposed action, as parsed from decision-oracle
// output.
type Decision struct {
	ActionType       string   `json:"action_type"`
	Summary          string   `json:"summary"`
	Target           string   `json:"target"`
	RelocateTo       string   `json:"relocate_to"`
	IsPublic         bool     `json:"is_public"`
	AffectedEntities []string `json:"affected_entities"`
	Reasoning        string   `json:"reasoning"`
}

// Resolution is the narrative outcome for one resolved event. Success or
// failure is decided by the KPI rule engine, not the oracle.
type Resolution struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// ParseDecision extracts and validates the first JSON object embedded in raw.
// Errors wrap ErrMalformed; callers synthesize a neutral decision instead of
// failing the scheduler pass.
func ParseDecision(raw string) (*Decision, error) {
	span, err := ExtractObject(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(decisionSchema, span); err != nil {
		return nil, err
	}
	var d Decision
	if err := json.Unmarshal([]byte(span), &d); err != nil {
		return nil, fmt.Errorf("decode decision: %v: %w", err, ErrMalformed)
	}
	// Decisions default to public; covert actions must opt out explicitly.
	if !jsonHasField(span, "is_public") {
		d.IsPublic = true
	}
	return &d, nil
}

// ParseResolutions extracts a JSON array of resolution objects from raw. On a
// decode failure it makes exactly one repair attempt before giving up; the
// returned error then wraps ErrMalformed and the caller fails the batch.
func ParseResolutions(raw string) ([]Resolution, error) {
	span, err := ExtractArray(raw)
	if err != nil {
		// Some responses wrap the array in an object or skip the container
		// entirely; repair handles both.
		span, err = RepairArray(raw)
		if err != nil {
			return nil, err
		}
		return decodeResolutions(span)
	}

	out, decodeErr := decodeResolutions(span)
	if decodeErr == nil {
		return out, nil
	}

	// One repair attempt: rebuild a canonical container and re-parse.
	repaired, err := RepairArray(raw)
	if err != nil {
		return nil, err
	}
	return decodeResolutions(repaired)
}

func decodeResolutions(span string) ([]Resolution, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(span), &items); err != nil {
		return nil, fmt.Errorf("decode resolution array: %v: %w", err, ErrMalformed)
	}
	out := make([]Resolution, 0, len(items))
	for i, item := range items {
		if err := validate(resolutionSchema, string(item)); err != nil {
			return nil, fmt.Errorf("resolution %d: %w", i, err)
		}
		var r Resolution
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("decode resolution %d: %v: %w", i, err, ErrMalformed)
		}
		out = append(out, r)
	}
	return out, nil
}

func jsonHasField(span, field string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &m); err != nil {
		return false
	}
	_, ok := m[field]
	return ok
}
