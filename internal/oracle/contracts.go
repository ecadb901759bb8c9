// Package oracle defines the decision-making contracts the engine fans out to,
// plus tolerant parsing of the free-text responses that come back. The engine
// never trusts response shape: extraction, repair, and schema validation all
// happen here.
package oracle

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transient oracle failure. The caller skips the
// agent's turn and retries on the next due cycle.
var ErrUnavailable = errors.New("oracle unavailable")

// ErrMalformed marks a response with no parseable JSON, or JSON that fails
// schema validation. Callers recover with a safe neutral result.
var ErrMalformed = errors.New("malformed oracle output")

// DecisionContext is the compiled situation handed to the decision oracle for
// one agent. Prompt construction downstream of this struct is opaque to the
// engine.
type DecisionContext struct {
	AgentID  string
	Entity   string
	GameTime time.Time
	Agenda   string
	Memory   []string
}

// Decider produces one agent's next action as free text expected to embed a
// single JSON object.
type Decider interface {
	Decide(ctx context.Context, dc DecisionContext) (string, error)
}

// BatchEvent is one pending event included in a batch-resolution request.
type BatchEvent struct {
	EventID    string `json:"event_id"`
	AgentID    string `json:"agent_id"`
	ActionType string `json:"action_type"`
	Summary    string `json:"summary"`
	Target     string `json:"target,omitempty"`
}

// BatchRequest groups pending events of one action type for resolution.
// Uniform groups keep the expected output schema identical across the batch.
type BatchRequest struct {
	GameTime   time.Time
	ActionType string
	Events     []BatchEvent
}

// BatchResolver resolves a batch of events, returning free text expected to
// embed a JSON array with one resolution object per input event, in order.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, br BatchRequest) (string, error)
}
