package sim

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talgya/statecraft/internal/approval"
	"github.com/talgya/statecraft/internal/geo"
	"github.com/talgya/statecraft/internal/memory"
	"github.com/talgya/statecraft/internal/oracle"
)

// defaultMovementMinutes is the relocation duration when the decision gives
// none.
const defaultMovementMinutes = 60

// ApprovalPattern flags actions that need a human sign-off before taking
// effect. Matching is by action type, summary keyword, or both, and only
// applies to agents that report to command.
type ApprovalPattern struct {
	Name        string
	ActionTypes []ActionType
	Keywords    []string
	Urgency     approval.Urgency
}

// An empty ActionTypes or Keywords list leaves that axis unconstrained; a
// pattern with both empty never matches.
func (p ApprovalPattern) matches(action ActionType, summary string) bool {
	if len(p.ActionTypes) == 0 && len(p.Keywords) == 0 {
		return false
	}
	if len(p.ActionTypes) > 0 {
		typeOK := false
		for _, t := range p.ActionTypes {
			if t == action {
				typeOK = true
				break
			}
		}
		if !typeOK {
			return false
		}
	}
	if len(p.Keywords) > 0 {
		lower := strings.ToLower(summary)
		for _, kw := range p.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
	return true
}

// EventProcessor turns raw decision-oracle output into structured events or
// approval requests. It never fails a scheduler pass on bad oracle output:
// unparseable text becomes a neutral event.
type EventProcessor struct {
	ctx      *Context
	roster   *Roster
	gate     *approval.Gate
	worldMap geo.Map
	memories memory.Distributor
	policy   []ApprovalPattern
}

// NewEventProcessor wires the processor to the shared state and
// collaborators.
func NewEventProcessor(ctx *Context, roster *Roster, gate *approval.Gate, worldMap geo.Map, memories memory.Distributor, policy []ApprovalPattern) *EventProcessor {
	return &EventProcessor{
		ctx:      ctx,
		roster:   roster,
		gate:     gate,
		worldMap: worldMap,
		memories: memories,
		policy:   policy,
	}
}

// Process parses one agent's raw oracle response and routes the result:
// into the pending queue, or into the approval gate when the action matches
// an approval-required pattern. The returned event is nil when the action
// went to the gate; the action type is returned either way so the scheduler
// can weigh the cooldown.
func (p *EventProcessor) Process(agentID, raw string, now time.Time) (*Event, ActionType) {
	sp, ok := p.roster.Agent(agentID)
	if !ok {
		slog.Warn("decision for unknown agent dropped", "agent", agentID)
		return nil, ActionNone
	}

	decision, err := oracle.ParseDecision(raw)
	if err != nil {
		slog.Warn("malformed decision, synthesizing neutral event",
			"agent", agentID,
			"error", err,
		)
		decision = &oracle.Decision{
			ActionType: string(ActionNone),
			Summary:    "No discernible action taken",
			IsPublic:   false,
		}
	}

	action := CoerceActionType(decision.ActionType)
	if action != ActionRelocate && decision.RelocateTo != "" {
		action = ActionRelocate
	}

	if sp.ReportsToCommand {
		for _, pattern := range p.policy {
			if pattern.matches(action, decision.Summary) {
				p.gate.Submit(approval.PendingApproval{
					AgentID:     agentID,
					Entity:      sp.Entity,
					ActionType:  string(action),
					Summary:     decision.Summary,
					Urgency:     pattern.Urgency,
					RequestedAt: now,
				})
				return nil, action
			}
		}
	}

	ev := &Event{
		ID:               NewEventID(),
		AgentID:          agentID,
		Entity:           sp.Entity,
		ActionType:       action,
		Summary:          decision.Summary,
		Target:           decision.Target,
		IsPublic:         decision.IsPublic,
		Status:           StatusPending,
		AffectedEntities: decision.AffectedEntities,
		CreatedAt:        time.Now(),
		GameTime:         now,
	}

	if action == ActionRelocate {
		target := decision.RelocateTo
		if target == "" {
			target = decision.Target
		}
		// The movement attempt is recorded as an event either way.
		if err := p.worldMap.StartMovement(sp.Entity, target, defaultMovementMinutes); err != nil {
			slog.Warn("movement rejected", "agent", agentID, "target", target, "error", err)
		}
	}

	p.ctx.AddEvent(ev)
	p.broadcast(*ev)

	slog.Info("event created",
		"event_id", ev.ID,
		"agent", agentID,
		"action", ev.ActionType,
		"public", ev.IsPublic,
	)
	return ev, action
}

// broadcast lets the actor remember its own action, and relevant agents see
// public ones.
func (p *EventProcessor) broadcast(ev Event) {
	if p.memories == nil {
		return
	}
	stamp := ev.GameTime.Format("2006-01-02 15:04")
	p.memories.Distribute(fmt.Sprintf("[%s] YOU: %s", stamp, ev.Summary), []string{ev.AgentID})
	if ev.IsPublic {
		line := fmt.Sprintf("[%s] %s: %s", stamp, ev.AgentID, ev.Summary)
		p.memories.Distribute(line, p.roster.RelevantAgents(ev))
	}
}
