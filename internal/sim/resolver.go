package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/statecraft/internal/geo"
	"github.com/talgya/statecraft/internal/kpi"
	"github.com/talgya/statecraft/internal/memory"
	"github.com/talgya/statecraft/internal/oracle"
	"github.com/talgya/statecraft/internal/situation"
)

// syntheticFailureOutcome is the visible outcome for events whose batch
// could not be resolved even after repair.
const syntheticFailureOutcome = "Resolution unavailable: the outcome of this action could not be determined"

// ResolverProcessor drains the pending queue in action-type groups, invokes
// the batch-resolve oracle once per group, and applies consequences. Runs on
// its own virtual-time tick; passes are mutually exclusive and an
// overlapping tick is skipped, not queued.
type ResolverProcessor struct {
	ctx        *Context
	roster     *Roster
	resolver   oracle.BatchResolver
	kpis       *kpi.Manager
	situations *situation.Tracker
	worldMap   geo.Map
	memories   memory.Distributor
	batchSize  int

	inFlight atomic.Bool
}

// NewResolverProcessor wires the resolver to shared state and collaborators.
func NewResolverProcessor(
	ctx *Context,
	roster *Roster,
	resolver oracle.BatchResolver,
	kpis *kpi.Manager,
	situations *situation.Tracker,
	worldMap geo.Map,
	memories memory.Distributor,
	batchSize int,
) *ResolverProcessor {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &ResolverProcessor{
		ctx:        ctx,
		roster:     roster,
		resolver:   resolver,
		kpis:       kpis,
		situations: situations,
		worldMap:   worldMap,
		memories:   memories,
		batchSize:  batchSize,
	}
}

// CycleStats summarizes one resolution pass.
type CycleStats struct {
	Skipped      bool
	Drained      int
	AutoResolved int
	Resolved     int
	Failed       int
	Requeued     int
	KPIChanges   int
}

// RunCycle executes one resolution pass at virtual time now. stopped is
// checked before state mutation; results of in-flight oracle calls are
// discarded once it reports true.
func (r *ResolverProcessor) RunCycle(ctx context.Context, now time.Time, stopped func() bool) CycleStats {
	if !r.inFlight.CompareAndSwap(false, true) {
		slog.Debug("resolver pass already in progress, tick skipped")
		return CycleStats{Skipped: true}
	}
	defer r.inFlight.Store(false)

	var stats CycleStats
	events := r.ctx.DrainPending(r.batchSize)
	stats.Drained = len(events)
	if len(events) == 0 {
		r.situations.Tick(now, r.kpis)
		return stats
	}

	slog.Info("resolver cycle", "events", len(events), "game_time", now.Format(time.RFC3339))

	// Group by action type so the oracle sees a uniform output schema per
	// call. FIFO order is preserved within each group.
	groups := make(map[ActionType][]Event)
	var order []ActionType
	for _, ev := range events {
		if _, seen := groups[ev.ActionType]; !seen {
			order = append(order, ev.ActionType)
		}
		groups[ev.ActionType] = append(groups[ev.ActionType], ev)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, action := range order {
		group := groups[action]
		if action == ActionNone {
			stats.AutoResolved += r.autoResolve(group)
			continue
		}
		r.resolveGroup(ctx, action, group, now, stopped, &stats)
	}

	if stopped() {
		return stats
	}
	r.situations.Tick(now, r.kpis)
	return stats
}

// autoResolve settles none-type events without an oracle call.
func (r *ResolverProcessor) autoResolve(group []Event) int {
	n := 0
	for _, ev := range group {
		if err := r.ctx.ResolveEvent(ev.ID, StatusResolved, "No action taken"); err == nil {
			n++
		}
	}
	return n
}

// resolveGroup invokes the oracle for one uniform group and applies the
// results. A failed parse (after one repair attempt) fails only this group;
// a transient oracle failure re-queues it for the next tick.
func (r *ResolverProcessor) resolveGroup(ctx context.Context, action ActionType, group []Event, now time.Time, stopped func() bool, stats *CycleStats) {
	req := oracle.BatchRequest{GameTime: now, ActionType: string(action)}
	for _, ev := range group {
		req.Events = append(req.Events, oracle.BatchEvent{
			EventID:    ev.ID,
			AgentID:    ev.AgentID,
			ActionType: string(ev.ActionType),
			Summary:    ev.Summary,
			Target:     ev.Target,
		})
	}

	raw, err := r.resolver.ResolveBatch(ctx, req)
	if stopped() {
		slog.Info("simulation stopping, batch result discarded", "action", action, "events", len(group))
		return
	}
	if err != nil {
		// Transient: the group goes back on the queue and other groups are
		// unaffected.
		stats.Requeued += r.requeue(group)
		slog.Warn("batch resolve unavailable, group requeued",
			"action", action,
			"events", len(group),
			"error", err,
		)
		return
	}

	resolutions, err := oracle.ParseResolutions(raw)
	if err != nil {
		// Repair already happened inside ParseResolutions; the whole group
		// fails with a visible synthetic outcome rather than blocking the
		// engine.
		stats.Failed += r.failGroup(group)
		slog.Error("batch response unparseable after repair, group failed",
			"action", action,
			"events", len(group),
			"error", err,
		)
		return
	}

	byID := make(map[string]oracle.Resolution, len(resolutions))
	for _, res := range resolutions {
		byID[res.EventID] = res
	}

	for _, ev := range group {
		outcome := r.kpis.Apply(ev.Entity, string(ev.ActionType), ev.Summary, ev.ID, now)
		stats.KPIChanges += len(outcome.Changes)

		narrative := byID[ev.ID].Outcome
		if narrative == "" {
			if outcome.Success {
				narrative = fmt.Sprintf("%s: succeeded", ev.Summary)
			} else {
				narrative = fmt.Sprintf("%s: failed", ev.Summary)
			}
		}

		if err := r.ctx.ResolveEvent(ev.ID, StatusResolved, narrative); err != nil {
			slog.Warn("event resolution rejected", "event_id", ev.ID, "error", err)
			continue
		}
		stats.Resolved++

		r.projectGeo(ev, narrative, now)
		r.distribute(ev, narrative, now)

		slog.Info("event resolved",
			"event_id", ev.ID,
			"agent", ev.AgentID,
			"success", outcome.Success,
			"kpi_changes", len(outcome.Changes),
		)
	}
}

func (r *ResolverProcessor) requeue(group []Event) int {
	ids := make([]string, 0, len(group))
	for _, ev := range group {
		ids = append(ids, ev.ID)
	}
	return r.ctx.RequeueEvents(ids)
}

func (r *ResolverProcessor) failGroup(group []Event) int {
	n := 0
	for _, ev := range group {
		if err := r.ctx.ResolveEvent(ev.ID, StatusFailed, syntheticFailureOutcome); err == nil {
			n++
		}
	}
	return n
}

// projectGeo creates a map event for geographically visible actions. Covert
// actions only surface when another entity is in the zone to observe them.
func (r *ResolverProcessor) projectGeo(ev Event, narrative string, now time.Time) {
	if r.worldMap == nil {
		return
	}
	if ev.ActionType != ActionMilitary && ev.ActionType != ActionRelocate {
		return
	}
	zone := ev.Target
	if zone == "" {
		return
	}
	desc := narrative
	if !ev.IsPublic {
		clash := r.worldMap.CheckSpatialClash(zone, string(ev.ActionType))
		if !clash.HasClash {
			return
		}
		desc = fmt.Sprintf("%s (observed by %s)", narrative, strings.Join(clash.Entities, ", "))
	}
	r.worldMap.CreateGeoEvent(geo.Event{
		Zone:          zone,
		EventType:     string(ev.ActionType),
		Description:   desc,
		SourceEventID: ev.ID,
		GameTime:      now,
	})
}

// distribute pushes the outcome into the memory streams of the actor and
// every relevant agent.
func (r *ResolverProcessor) distribute(ev Event, narrative string, now time.Time) {
	if r.memories == nil {
		return
	}
	r.memories.Distribute(fmt.Sprintf("[RESULT] YOUR ACTION: %s", narrative), []string{ev.AgentID})
	r.memories.Distribute(fmt.Sprintf("[RESULT] %s", narrative), r.roster.RelevantAgents(ev))
}
