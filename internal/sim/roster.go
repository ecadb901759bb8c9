package sim

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// AgentSpec configures one autonomous agent.
type AgentSpec struct {
	ID      string
	Entity  string
	Agenda  string
	Cadence time.Duration // base interval between actions, in game time
	Enabled bool
	// ReportsToCommand marks agents whose flagged actions go through the
	// approval gate instead of acting directly.
	ReportsToCommand bool
}

// Roster is the entity/agent relationship table: which agents belong to
// which entity, and which agents an event is relevant to.
type Roster struct {
	mu       sync.Mutex
	agents   map[string]*AgentSpec
	byEntity map[string][]string
	order    []string
}

// NewRoster indexes the agent specs.
func NewRoster(specs []AgentSpec) *Roster {
	r := &Roster{
		agents:   make(map[string]*AgentSpec, len(specs)),
		byEntity: make(map[string][]string),
	}
	for i := range specs {
		sp := specs[i]
		r.agents[sp.ID] = &sp
		r.byEntity[sp.Entity] = append(r.byEntity[sp.Entity], sp.ID)
		r.order = append(r.order, sp.ID)
	}
	return r
}

// Agent returns a copy of one spec.
func (r *Roster) Agent(id string) (AgentSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.agents[id]
	if !ok {
		return AgentSpec{}, false
	}
	return *sp, true
}

// AgentIDs returns all agent ids in registration order.
func (r *Roster) AgentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// EntityAgents returns the agents belonging to an entity.
func (r *Roster) EntityAgents(entity string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byEntity[entity]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// SetEnabled toggles an agent at runtime. Disabled agents are skipped by the
// scheduler but keep accruing due times, so re-enabling causes no backlog.
func (r *Roster) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.agents[id]
	if !ok {
		return false
	}
	sp.Enabled = enabled
	slog.Info("agent toggled", "agent", id, "enabled", enabled)
	return true
}

// RelevantAgents decides which agents should receive memory of an event:
// the actor's colleagues (same entity) plus all agents of affected
// entities, minus the actor and system agents.
func (r *Roster) RelevantAgents(ev Event) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	if actor, ok := r.agents[ev.AgentID]; ok {
		for _, id := range r.byEntity[actor.Entity] {
			seen[id] = true
		}
	}
	for _, affected := range ev.AffectedEntities {
		if ids, ok := r.byEntity[affected]; ok {
			for _, id := range ids {
				seen[id] = true
			}
			continue
		}
		// Affected names may be agent ids rather than entities.
		if _, ok := r.agents[affected]; ok {
			seen[affected] = true
		}
	}

	delete(seen, ev.AgentID)
	out := make([]string, 0, len(seen))
	for id := range seen {
		if strings.HasPrefix(id, "System-") {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
