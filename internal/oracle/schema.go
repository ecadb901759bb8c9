package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schemas for the two response shapes the engine accepts. action_type is not
// enum-restricted here: unknown values are coerced downstream with a warning
// instead of rejecting the whole decision.
const decisionSchemaJSON = `{
	"type": "object",
	"required": ["action_type", "summary"],
	"properties": {
		"action_type": {"type": "string", "minLength": 1},
		"summary": {"type": "string", "minLength": 1},
		"target": {"type": "string"},
		"relocate_to": {"type": "string"},
		"is_public": {"type": "boolean"},
		"affected_entities": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"}
	}
}`

const resolutionSchemaJSON = `{
	"type": "object",
	"required": ["event_id", "outcome"],
	"properties": {
		"event_id": {"type": "string", "minLength": 1},
		"outcome": {"type": "string", "minLength": 1}
	}
}`

var (
	decisionSchema   = jsonschema.MustCompileString("decision.json", decisionSchemaJSON)
	resolutionSchema = jsonschema.MustCompileString("resolution.json", resolutionSchemaJSON)
)

func validate(schema *jsonschema.Schema, doc string) error {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return fmt.Errorf("decode: %v: %w", err, ErrMalformed)
	}
	if err := schema.Validate(v); err != nil {
		// jsonschema errors are multi-line; keep the first line for logs.
		msg := err.Error()
		if i := strings.IndexByte(msg, '\n'); i > 0 {
			msg = msg[:i]
		}
		return fmt.Errorf("schema: %s: %w", msg, ErrMalformed)
	}
	return nil
}
