package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/geo"
	"github.com/talgya/statecraft/internal/kpi"
	"github.com/talgya/statecraft/internal/oracle"
	"github.com/talgya/statecraft/internal/situation"
)

type fakeBatchResolver struct {
	mu       sync.Mutex
	requests []oracle.BatchRequest
	respond  func(br oracle.BatchRequest) (string, error)
}

func (f *fakeBatchResolver) ResolveBatch(ctx context.Context, br oracle.BatchRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, br)
	f.mu.Unlock()
	if f.respond == nil {
		return "[]", nil
	}
	return f.respond(br)
}

func echoResolutions(br oracle.BatchRequest) (string, error) {
	var parts []string
	for _, ev := range br.Events {
		parts = append(parts, fmt.Sprintf(`{"event_id": %q, "outcome": "Outcome for %s"}`, ev.EventID, ev.EventID))
	}
	return "Here are the results:\n[" + strings.Join(parts, ",") + "]", nil
}

func neverStopped() bool { return false }

var resNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func resolverFixture(t *testing.T, fake *fakeBatchResolver, rules kpi.RuleTable) (*ResolverProcessor, *Context, *kpi.Manager) {
	t.Helper()
	ctx := NewContext()
	roster := NewRoster([]AgentSpec{
		{ID: "a1", Entity: "alpha", Cadence: time.Minute, Enabled: true},
		{ID: "b1", Entity: "beta", Cadence: time.Minute, Enabled: true},
	})
	kpis, err := kpi.NewManager(rules, entropy.NewSeeded(7))
	require.NoError(t, err)
	kpis.SetInitial("alpha", "stability", kpi.Metric{Value: 50, Min: 0, Max: 100})
	kpis.SetInitial("beta", "stability", kpi.Metric{Value: 50, Min: 0, Max: 100})
	r := NewResolverProcessor(ctx, roster, fake, kpis, situation.NewTracker(), nil, nil, 5)
	return r, ctx, kpis
}

func addPending(ctx *Context, id, agent, entity string, action ActionType) {
	ctx.AddEvent(&Event{
		ID:         id,
		AgentID:    agent,
		Entity:     entity,
		ActionType: action,
		Summary:    "Test action " + id,
		IsPublic:   true,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		GameTime:   resNow,
	})
}

func TestRunCycleResolvesBatch(t *testing.T) {
	fake := &fakeBatchResolver{respond: echoResolutions}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionDiplomatic)
	addPending(ctx, "e2", "b1", "beta", ActionDiplomatic)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 2, stats.Drained)
	assert.Equal(t, 2, stats.Resolved)
	assert.Zero(t, stats.Failed)

	ev, _ := ctx.Event("e1")
	assert.Equal(t, StatusResolved, ev.Status)
	assert.Equal(t, "Outcome for e1", ev.Outcome)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, "diplomatic", fake.requests[0].ActionType)
}

func TestRunCycleGroupsByActionType(t *testing.T) {
	fake := &fakeBatchResolver{respond: echoResolutions}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionDiplomatic)
	addPending(ctx, "e2", "b1", "beta", ActionMilitary)
	addPending(ctx, "e3", "a1", "alpha", ActionDiplomatic)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 3, stats.Resolved)

	// One oracle call per action type, FIFO within each group.
	require.Len(t, fake.requests, 2)
	byAction := map[string][]string{}
	for _, req := range fake.requests {
		for _, ev := range req.Events {
			byAction[req.ActionType] = append(byAction[req.ActionType], ev.EventID)
		}
	}
	assert.Equal(t, []string{"e1", "e3"}, byAction["diplomatic"])
	assert.Equal(t, []string{"e2"}, byAction["military"])
}

func TestRunCycleAutoResolvesNoneWithoutOracle(t *testing.T) {
	fake := &fakeBatchResolver{respond: echoResolutions}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionNone)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 1, stats.AutoResolved)
	assert.Empty(t, fake.requests)

	ev, _ := ctx.Event("e1")
	assert.Equal(t, StatusResolved, ev.Status)
	assert.Equal(t, "No action taken", ev.Outcome)
}

func TestRunCycleFailsGroupAfterRepair(t *testing.T) {
	// No balanced objects anywhere: extraction and repair both fail.
	fake := &fakeBatchResolver{respond: func(oracle.BatchRequest) (string, error) {
		return "The battle raged but I cannot structure my thoughts", nil
	}}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionMilitary)
	addPending(ctx, "e2", "b1", "beta", ActionMilitary)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Resolved)

	for _, id := range []string{"e1", "e2"} {
		ev, _ := ctx.Event(id)
		assert.Equal(t, StatusFailed, ev.Status)
		assert.NotEmpty(t, ev.Outcome)
	}
	assert.Zero(t, ctx.PendingCount())
}

func TestRunCycleFailureIsolatedPerGroup(t *testing.T) {
	fake := &fakeBatchResolver{respond: func(br oracle.BatchRequest) (string, error) {
		if br.ActionType == "military" {
			return "garbage with no json at all", nil
		}
		return echoResolutions(br)
	}}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionMilitary)
	addPending(ctx, "e2", "b1", "beta", ActionDiplomatic)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Resolved)

	ev1, _ := ctx.Event("e1")
	assert.Equal(t, StatusFailed, ev1.Status)
	ev2, _ := ctx.Event("e2")
	assert.Equal(t, StatusResolved, ev2.Status)
}

func TestRunCycleRepairsBrokenArray(t *testing.T) {
	// Objects present but the array container is mangled; repair rebuilds it.
	fake := &fakeBatchResolver{respond: func(br oracle.BatchRequest) (string, error) {
		return fmt.Sprintf(`{"event_id": "%s", "outcome": "Talks concluded"} trailing junk`,
			br.Events[0].EventID), nil
	}}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionDiplomatic)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 1, stats.Resolved)
	ev, _ := ctx.Event("e1")
	assert.Equal(t, StatusResolved, ev.Status)
	assert.Equal(t, "Talks concluded", ev.Outcome)
}

func TestRunCycleRequeuesOnTransientFailure(t *testing.T) {
	fake := &fakeBatchResolver{respond: func(oracle.BatchRequest) (string, error) {
		return "", fmt.Errorf("post messages: %w", oracle.ErrUnavailable)
	}}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionEconomic)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 1, stats.Requeued)
	assert.Zero(t, stats.Failed)

	// Still pending, back on the queue for the next pass.
	ev, _ := ctx.Event("e1")
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, 1, ctx.PendingCount())
}

func TestRunCycleSkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeBatchResolver{respond: func(br oracle.BatchRequest) (string, error) {
		close(started)
		<-release
		return echoResolutions(br)
	}}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionDiplomatic)

	done := make(chan CycleStats, 1)
	go func() { done <- r.RunCycle(context.Background(), resNow, neverStopped) }()
	<-started

	// Overlapping tick is skipped, not queued.
	overlap := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.True(t, overlap.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Resolved)
}

func TestRunCycleDiscardsResultAfterStop(t *testing.T) {
	var stopped bool
	fake := &fakeBatchResolver{respond: func(br oracle.BatchRequest) (string, error) {
		stopped = true // stop lands while the oracle call is in flight
		return echoResolutions(br)
	}}
	r, ctx, _ := resolverFixture(t, fake, kpi.RuleTable{})
	addPending(ctx, "e1", "a1", "alpha", ActionDiplomatic)

	stats := r.RunCycle(context.Background(), resNow, func() bool { return stopped })
	assert.Zero(t, stats.Resolved)

	ev, _ := ctx.Event("e1")
	assert.Equal(t, StatusPending, ev.Status)
}

func TestRunCycleAppliesKPIRules(t *testing.T) {
	rules := kpi.RuleTable{
		"economic": {{
			SuccessRate: 1.0,
			OnSuccess:   []kpi.Delta{{Metric: "stability", Min: 5, Max: 5}},
		}},
	}
	fake := &fakeBatchResolver{respond: echoResolutions}
	r, ctx, kpis := resolverFixture(t, fake, rules)
	addPending(ctx, "e1", "a1", "alpha", ActionEconomic)

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.KPIChanges)

	v, ok := kpis.MetricValue("alpha", "stability")
	require.True(t, ok)
	assert.Equal(t, 55.0, v)
	// The actor's own roll never touches other entities here.
	v, _ = kpis.MetricValue("beta", "stability")
	assert.Equal(t, 50.0, v)
}

func TestRunCycleRespectsBatchSize(t *testing.T) {
	fake := &fakeBatchResolver{respond: echoResolutions}
	ctx := NewContext()
	roster := NewRoster([]AgentSpec{{ID: "a1", Entity: "alpha", Cadence: time.Minute, Enabled: true}})
	kpis, err := kpi.NewManager(kpi.RuleTable{}, entropy.NewSeeded(7))
	require.NoError(t, err)
	r := NewResolverProcessor(ctx, roster, fake, kpis, situation.NewTracker(), nil, nil, 2)

	for i := 0; i < 5; i++ {
		addPending(ctx, fmt.Sprintf("e%d", i), "a1", "alpha", ActionDiplomatic)
	}

	stats := r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Equal(t, 2, stats.Drained)
	assert.Equal(t, 3, ctx.PendingCount())
}

func TestProjectGeoCovertActionNeedsObserver(t *testing.T) {
	fake := &fakeBatchResolver{respond: echoResolutions}
	ctx := NewContext()
	roster := NewRoster([]AgentSpec{{ID: "a1", Entity: "alpha", Cadence: time.Minute, Enabled: true}})
	kpis, err := kpi.NewManager(kpi.RuleTable{}, entropy.NewSeeded(7))
	require.NoError(t, err)
	worldMap := &fakeMap{}
	r := NewResolverProcessor(ctx, roster, fake, kpis, situation.NewTracker(), worldMap, nil, 5)

	covert := func(id string) *Event {
		return &Event{
			ID:         id,
			AgentID:    "a1",
			Entity:     "alpha",
			ActionType: ActionMilitary,
			Summary:    "Raid the depot",
			Target:     "capital",
			Status:     StatusPending,
			CreatedAt:  time.Now(),
			GameTime:   resNow,
		}
	}

	// Empty zone: the covert raid leaves no trace on the map.
	ctx.AddEvent(covert("e1"))
	r.RunCycle(context.Background(), resNow, neverStopped)
	assert.Empty(t, worldMap.geoEvents)

	// Another entity in the zone: the raid surfaces, naming the observer.
	worldMap.clash = geo.Clash{HasClash: true, Entities: []string{"beta"}}
	ctx.AddEvent(covert("e2"))
	r.RunCycle(context.Background(), resNow, neverStopped)
	require.Len(t, worldMap.geoEvents, 1)
	assert.Equal(t, "e2", worldMap.geoEvents[0].SourceEventID)
	assert.Contains(t, worldMap.geoEvents[0].Description, "observed by beta")

	// Public actions project regardless of who is around.
	worldMap.clash = geo.Clash{}
	public := covert("e3")
	public.IsPublic = true
	ctx.AddEvent(public)
	r.RunCycle(context.Background(), resNow, neverStopped)
	require.Len(t, worldMap.geoEvents, 2)
	assert.Equal(t, "e3", worldMap.geoEvents[1].SourceEventID)
}
