package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gateNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sinkRecorder struct {
	enqueued  []string
	scheduled []time.Time
}

func recordingGate() (*Gate, *sinkRecorder) {
	rec := &sinkRecorder{}
	g := NewGate(
		func(a PendingApproval, summary string) { rec.enqueued = append(rec.enqueued, summary) },
		func(a PendingApproval, summary string, due time.Time) {
			rec.enqueued = append(rec.enqueued, summary)
			rec.scheduled = append(rec.scheduled, due)
		},
	)
	return g, rec
}

func TestSubmitAssignsIDAndDefaults(t *testing.T) {
	g, _ := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike"})
	assert.NotEmpty(t, id)

	pending := g.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, UrgencyNormal, pending[0].Urgency)
}

func TestPendingKeepsSubmissionOrder(t *testing.T) {
	g, _ := recordingGate()
	g.Submit(PendingApproval{ID: "apr_1", Summary: "first"})
	g.Submit(PendingApproval{ID: "apr_2", Summary: "second"})

	pending := g.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "apr_1", pending[0].ID)
	assert.Equal(t, "apr_2", pending[1].ID)
}

func TestDecideApproveEnqueuesImmediately(t *testing.T) {
	g, rec := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike the depot"})

	require.NoError(t, g.Decide(id, Decision{Kind: DecisionApprove}, gateNow))
	assert.Equal(t, []string{"Strike the depot"}, rec.enqueued)
	assert.Empty(t, rec.scheduled)
	assert.Empty(t, g.Pending())
	assert.Len(t, g.Decided(), 1)
}

func TestDecideModifyUsesNewSummary(t *testing.T) {
	g, rec := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike the depot"})

	require.NoError(t, g.Decide(id, Decision{
		Kind:            DecisionModify,
		ModifiedSummary: "Strike the depot, minimal casualties",
	}, gateNow))
	assert.Equal(t, []string{"Strike the depot, minimal casualties"}, rec.enqueued)
}

func TestDecideWithDueTimeSchedules(t *testing.T) {
	g, rec := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike"})

	due := gateNow.Add(2 * time.Hour)
	require.NoError(t, g.Decide(id, Decision{Kind: DecisionApprove, DueGameTime: &due}, gateNow))
	require.Len(t, rec.scheduled, 1)
	assert.Equal(t, due, rec.scheduled[0])
}

func TestDecideRejectsPastDueTime(t *testing.T) {
	g, rec := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike"})

	past := gateNow.Add(-time.Hour)
	err := g.Decide(id, Decision{Kind: DecisionApprove, DueGameTime: &past}, gateNow)
	require.Error(t, err)
	assert.Empty(t, rec.enqueued)
	// Rejected decision leaves the approval pending.
	assert.Len(t, g.Pending(), 1)
}

func TestDecideRejectDiscardsAction(t *testing.T) {
	g, rec := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike"})

	require.NoError(t, g.Decide(id, Decision{Kind: DecisionReject, Notes: "too risky"}, gateNow))
	assert.Empty(t, rec.enqueued)

	decided := g.Decided()
	require.Len(t, decided, 1)
	assert.Equal(t, "too risky", decided[0].Decision.Notes)
}

func TestDecideExactlyOnce(t *testing.T) {
	g, rec := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike"})

	require.NoError(t, g.Decide(id, Decision{Kind: DecisionApprove}, gateNow))
	err := g.Decide(id, Decision{Kind: DecisionReject}, gateNow)
	require.ErrorIs(t, err, ErrAlreadyDecided)

	// The second decision changed nothing.
	assert.Len(t, rec.enqueued, 1)
	assert.Len(t, g.Decided(), 1)
}

func TestDecideUnknownID(t *testing.T) {
	g, _ := recordingGate()
	err := g.Decide("apr_missing", Decision{Kind: DecisionApprove}, gateNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecideUnknownKind(t *testing.T) {
	g, _ := recordingGate()
	id := g.Submit(PendingApproval{AgentID: "a1", Summary: "Strike"})
	err := g.Decide(id, Decision{Kind: "ponder"}, gateNow)
	require.Error(t, err)
	assert.Len(t, g.Pending(), 1)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	g, _ := recordingGate()
	g.Submit(PendingApproval{ID: "apr_1", AgentID: "a1", Summary: "Strike"})
	id2 := g.Submit(PendingApproval{ID: "apr_2", AgentID: "a2", Summary: "Parley"})
	require.NoError(t, g.Decide(id2, Decision{Kind: DecisionReject}, gateNow))

	st := g.Snapshot()

	g2, _ := recordingGate()
	g2.Restore(st)
	pending := g2.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "apr_1", pending[0].ID)
	assert.Len(t, g2.Decided(), 1)

	// Already-decided history survives the round trip.
	err := g2.Decide("apr_2", Decision{Kind: DecisionApprove}, gateNow)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}
