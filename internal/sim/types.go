// Package sim is the simulation engine core: the virtual clock, the
// per-agent scheduler, the event lifecycle, and the batched resolver. One
// SimulationContext exists per active game; there are no process-wide
// singletons.
package sim

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ActionType categorizes an agent's proposed action.
type ActionType string

const (
	ActionDiplomatic   ActionType = "diplomatic"
	ActionMilitary     ActionType = "military"
	ActionEconomic     ActionType = "economic"
	ActionIntelligence ActionType = "intelligence"
	ActionInternal     ActionType = "internal"
	ActionRelocate     ActionType = "relocate"
	ActionNone         ActionType = "none"
)

// ActionTypes lists every valid action type.
var ActionTypes = []ActionType{
	ActionDiplomatic,
	ActionMilitary,
	ActionEconomic,
	ActionIntelligence,
	ActionInternal,
	ActionRelocate,
	ActionNone,
}

// ValidActionType reports whether s names a known action type.
func ValidActionType(s string) bool {
	for _, a := range ActionTypes {
		if string(a) == s {
			return true
		}
	}
	return false
}

// CoerceActionType maps free-form oracle output onto the enum. Unknown
// values become ActionNone with a warning, never an error.
func CoerceActionType(s string) ActionType {
	if ValidActionType(s) {
		return ActionType(s)
	}
	slog.Warn("unknown action type coerced to none", "action_type", s)
	return ActionNone
}

// ResolutionStatus is an event's lifecycle stage. The transition is one-way:
// pending events reach exactly one of resolved or failed and never return.
type ResolutionStatus string

const (
	StatusPending  ResolutionStatus = "pending"
	StatusResolved ResolutionStatus = "resolved"
	StatusFailed   ResolutionStatus = "failed"
)

// Terminal reports whether a status is final.
func (s ResolutionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Event is one action moving through the engine. Created by the event
// processor; mutated only by the resolver pass. External subsystems see
// copies, never the engine's instances.
type Event struct {
	ID               string           `json:"id"`
	AgentID          string           `json:"agent_id"`
	Entity           string           `json:"entity"`
	ActionType       ActionType       `json:"action_type"`
	Summary          string           `json:"summary"`
	Target           string           `json:"target,omitempty"`
	IsPublic         bool             `json:"is_public"`
	Status           ResolutionStatus `json:"resolution_status"`
	Outcome          string           `json:"outcome,omitempty"`
	ParentEventID    string           `json:"parent_event_id,omitempty"`
	AffectedEntities []string         `json:"affected_entities,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	GameTime         time.Time        `json:"game_time"`
}

// NewEventID returns a fresh prefixed event id.
func NewEventID() string {
	return "evt_" + uuid.NewString()[:8]
}

// ScheduledEvent is an approved action deferred to a future virtual time.
// The scheduler converts it into a live Event once game time passes DueGameTime.
type ScheduledEvent struct {
	ID               string     `json:"id"`
	AgentID          string     `json:"agent_id"`
	Entity           string     `json:"entity"`
	ActionType       ActionType `json:"action_type"`
	Summary          string     `json:"summary"`
	DueGameTime      time.Time  `json:"due_game_time"`
	SourceApprovalID string     `json:"source_approval_id,omitempty"`
}
