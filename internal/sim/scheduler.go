package sim

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// AdjustmentFloor bounds how far urgency and cooldown can shrink an agent's
// cadence. No agent ever acts more often than cadence * AdjustmentFloor.
const AdjustmentFloor = 0.25

// Scheduler decides which agents are due to act on each clock advance and
// recomputes their next due time after they act. Heavier actions cool down
// longer; active situations make an entity's agents act sooner.
type Scheduler struct {
	roster  *Roster
	weights map[ActionType]float64
	urgency func(entity string) float64

	mu      sync.Mutex
	nextDue map[string]time.Time
}

// NewScheduler seeds every agent's first due time one base cadence after
// start. weights maps action types to cooldown multipliers (1.0 when
// unlisted); urgency returns a multiplier < 1 when an entity is under
// pressure, or 1.0 when nil.
func NewScheduler(roster *Roster, weights map[ActionType]float64, urgency func(string) float64, start time.Time) *Scheduler {
	if urgency == nil {
		urgency = func(string) float64 { return 1.0 }
	}
	s := &Scheduler{
		roster:  roster,
		weights: weights,
		urgency: urgency,
		nextDue: make(map[string]time.Time),
	}
	for _, id := range roster.AgentIDs() {
		sp, _ := roster.Agent(id)
		s.nextDue[id] = start.Add(sp.Cadence)
	}
	return s
}

// Due selects all agents whose due time has elapsed, ascending by due time
// with ties broken by agent id. Selected agents get a provisional next due
// one cadence out so an in-flight decision is not selected twice; disabled
// agents are skipped but advance the same way, so re-enabling causes no
// backlog.
func (s *Scheduler) Due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	type due struct {
		id string
		at time.Time
	}
	var elapsed []due
	for id, at := range s.nextDue {
		if !at.After(now) {
			elapsed = append(elapsed, due{id, at})
		}
	}
	sort.Slice(elapsed, func(i, j int) bool {
		if elapsed[i].at.Equal(elapsed[j].at) {
			return elapsed[i].id < elapsed[j].id
		}
		return elapsed[i].at.Before(elapsed[j].at)
	})

	var selected []string
	for _, d := range elapsed {
		sp, ok := s.roster.Agent(d.id)
		if !ok {
			delete(s.nextDue, d.id)
			continue
		}
		s.nextDue[d.id] = now.Add(sp.Cadence)
		if !sp.Enabled {
			continue
		}
		selected = append(selected, d.id)
	}
	return selected
}

// Reschedule recomputes an agent's due time after it acted:
// now + cadence * (urgency * action weight), floored at AdjustmentFloor.
func (s *Scheduler) Reschedule(agentID string, now time.Time, acted ActionType) {
	sp, ok := s.roster.Agent(agentID)
	if !ok {
		return
	}

	weight := 1.0
	if w, found := s.weights[acted]; found {
		weight = w
	}
	adjustment := s.urgency(sp.Entity) * weight
	if adjustment < AdjustmentFloor {
		adjustment = AdjustmentFloor
	}

	next := now.Add(time.Duration(float64(sp.Cadence) * adjustment))
	s.mu.Lock()
	s.nextDue[agentID] = next
	s.mu.Unlock()

	slog.Debug("agent rescheduled",
		"agent", agentID,
		"action", acted,
		"adjustment", adjustment,
		"next_due", next.Format(time.RFC3339),
	)
}

// NextDue returns an agent's current due time.
func (s *Scheduler) NextDue(agentID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.nextDue[agentID]
	return at, ok
}

// Promote converts every eligible scheduled event into a live pending event.
// Runs on the same pass as due selection, so a deferred approval becomes
// visible to the next resolver tick.
func (s *Scheduler) Promote(ctx *Context, now time.Time) []Event {
	var promoted []Event
	for _, se := range ctx.PopDueScheduled(now) {
		ev := &Event{
			ID:            NewEventID(),
			AgentID:       se.AgentID,
			Entity:        se.Entity,
			ActionType:    se.ActionType,
			Summary:       se.Summary,
			IsPublic:      true,
			Status:        StatusPending,
			ParentEventID: se.SourceApprovalID,
			CreatedAt:     time.Now(),
			GameTime:      now,
		}
		ctx.AddEvent(ev)
		promoted = append(promoted, *ev)
		slog.Info("scheduled event promoted",
			"scheduled_id", se.ID,
			"event_id", ev.ID,
			"agent", se.AgentID,
		)
	}
	return promoted
}

// DueTimesSnapshot copies the due table for persistence.
func (s *Scheduler) DueTimesSnapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.nextDue))
	for id, at := range s.nextDue {
		out[id] = at
	}
	return out
}

// RestoreDueTimes replaces the due table from a saved snapshot. Unknown
// agents are dropped; agents missing from the snapshot keep their seeded
// time.
func (s *Scheduler) RestoreDueTimes(saved map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range saved {
		if _, ok := s.nextDue[id]; ok {
			s.nextDue[id] = at
		}
	}
}
