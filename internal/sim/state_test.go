package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingEvent(id, agent string, at time.Time) *Event {
	return &Event{
		ID:         id,
		AgentID:    agent,
		Entity:     "alpha",
		ActionType: ActionDiplomatic,
		Summary:    "Open talks",
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		GameTime:   at,
	}
}

func TestDrainPendingIsFIFO(t *testing.T) {
	ctx := NewContext()
	now := time.Now()
	for _, id := range []string{"e1", "e2", "e3"} {
		ctx.AddEvent(pendingEvent(id, "a1", now))
	}

	batch := ctx.DrainPending(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "e1", batch[0].ID)
	assert.Equal(t, "e2", batch[1].ID)
	assert.Equal(t, 1, ctx.PendingCount())

	rest := ctx.DrainPending(10)
	require.Len(t, rest, 1)
	assert.Equal(t, "e3", rest[0].ID)
	assert.Zero(t, ctx.PendingCount())
}

func TestResolveEventIsOneWay(t *testing.T) {
	ctx := NewContext()
	ctx.AddEvent(pendingEvent("e1", "a1", time.Now()))

	require.NoError(t, ctx.ResolveEvent("e1", StatusResolved, "done"))

	// A second transition in any direction is rejected.
	assert.Error(t, ctx.ResolveEvent("e1", StatusFailed, "nope"))
	assert.Error(t, ctx.ResolveEvent("e1", StatusResolved, "again"))

	ev, ok := ctx.Event("e1")
	require.True(t, ok)
	assert.Equal(t, StatusResolved, ev.Status)
	assert.Equal(t, "done", ev.Outcome)

	// Pending is not a terminal status.
	ctx.AddEvent(pendingEvent("e2", "a1", time.Now()))
	assert.Error(t, ctx.ResolveEvent("e2", StatusPending, ""))
	assert.Error(t, ctx.ResolveEvent("missing", StatusResolved, ""))
}

func TestRequeueSkipsTerminalEvents(t *testing.T) {
	ctx := NewContext()
	now := time.Now()
	ctx.AddEvent(pendingEvent("e1", "a1", now))
	ctx.AddEvent(pendingEvent("e2", "a1", now))

	drained := ctx.DrainPending(2)
	require.Len(t, drained, 2)

	require.NoError(t, ctx.ResolveEvent("e1", StatusResolved, "done"))
	n := ctx.RequeueEvents([]string{"e1", "e2", "missing"})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ctx.PendingCount())

	back := ctx.DrainPending(5)
	require.Len(t, back, 1)
	assert.Equal(t, "e2", back[0].ID)
}

func TestResolveRemovesQueuedEvent(t *testing.T) {
	ctx := NewContext()
	now := time.Now()
	ctx.AddEvent(pendingEvent("e1", "a1", now))
	ctx.AddEvent(pendingEvent("e2", "a2", now))

	// Resolving an event that was never drained must pull it off the queue
	// so it cannot reach the resolver again.
	require.NoError(t, ctx.ResolveEvent("e2", StatusFailed, "lost"))
	assert.Equal(t, 1, ctx.PendingCount())

	batch := ctx.DrainPending(5)
	require.Len(t, batch, 1)
	assert.Equal(t, "e1", batch[0].ID)
}

func TestDrainedCopiesDoNotAliasLog(t *testing.T) {
	ctx := NewContext()
	ctx.AddEvent(pendingEvent("e1", "a1", time.Now()))

	batch := ctx.DrainPending(1)
	batch[0].Summary = "mutated"

	ev, _ := ctx.Event("e1")
	assert.Equal(t, "Open talks", ev.Summary)
}

func TestArchiveMovesOldTerminalEvents(t *testing.T) {
	ctx := NewContext()
	gameTime := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx.AddEvent(pendingEvent("old", "a1", gameTime))
	ctx.AddEvent(pendingEvent("fresh", "a1", gameTime.Add(2*time.Hour)))
	ctx.AddEvent(pendingEvent("unresolved", "a1", gameTime))

	require.NoError(t, ctx.ResolveEvent("old", StatusResolved, "done"))
	require.NoError(t, ctx.ResolveEvent("fresh", StatusResolved, "done"))

	now := gameTime.Add(90 * time.Minute)
	moved := ctx.Archive(now, time.Hour)
	assert.Equal(t, 1, moved)

	// Old and resolved leaves the live log; pending stays regardless of age.
	_, ok := ctx.Event("old")
	assert.False(t, ok)
	_, ok = ctx.Event("unresolved")
	assert.True(t, ok)

	archived := ctx.Archived()
	require.Len(t, archived, 1)
	assert.Equal(t, "old", archived[0].ID)
}

func TestScheduledEventOrdering(t *testing.T) {
	ctx := NewContext()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx.AddScheduled(ScheduledEvent{ID: "s2", DueGameTime: base.Add(2 * time.Hour)})
	ctx.AddScheduled(ScheduledEvent{ID: "s1", DueGameTime: base.Add(time.Hour)})

	listed := ctx.Scheduled()
	require.Len(t, listed, 2)
	assert.Equal(t, "s1", listed[0].ID)

	assert.True(t, ctx.CancelScheduled("s2"))
	assert.False(t, ctx.CancelScheduled("s2"))

	due := ctx.PopDueScheduled(base.Add(time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, "s1", due[0].ID)
	assert.Empty(t, ctx.Scheduled())
}

func TestContextSnapshotRestore(t *testing.T) {
	ctx := NewContext()
	now := time.Now()
	ctx.AddEvent(pendingEvent("e1", "a1", now))
	ctx.AddEvent(pendingEvent("e2", "a2", now))
	require.NoError(t, ctx.ResolveEvent("e2", StatusFailed, "lost"))
	ctx.AddScheduled(ScheduledEvent{ID: "s1", DueGameTime: now.Add(time.Hour)})

	st := ctx.Snapshot()

	restored := NewContext()
	restored.Restore(st)
	assert.Equal(t, 2, len(restored.Events()))
	assert.Equal(t, 1, restored.PendingCount())
	assert.Len(t, restored.Scheduled(), 1)

	ev, ok := restored.Event("e2")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, ev.Status)

	// The restored pending queue still drains the right event.
	batch := restored.DrainPending(5)
	require.Len(t, batch, 1)
	assert.Equal(t, "e1", batch[0].ID)
}
