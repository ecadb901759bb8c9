// Package approval holds actions awaiting a human sign-off and turns
// decisions into immediate or scheduled events. Every submission is decided
// at most once.
package approval

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyDecided rejects a second decision on the same approval. It is a
// caller error, never a crash, and leaves no state change behind.
var ErrAlreadyDecided = errors.New("approval already decided")

// ErrNotFound rejects a decision on an unknown approval id.
var ErrNotFound = errors.New("approval not found")

// Urgency orders pending approvals for the operator.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyHigh      Urgency = "high"
	UrgencyNormal    Urgency = "normal"
	UrgencyLow       Urgency = "low"
)

// PendingApproval is one action held for sign-off.
type PendingApproval struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Entity      string    `json:"entity"`
	ActionType  string    `json:"action_type"`
	Summary     string    `json:"action_summary"`
	Urgency     Urgency   `json:"urgency"`
	RequestedAt time.Time `json:"requested_at"`
}

// DecisionKind is the operator's verdict.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionModify  DecisionKind = "modify"
	DecisionReject  DecisionKind = "reject"
)

// Decision carries the verdict and its options. DueGameTime defers the
// approved action to a future virtual time; ModifiedSummary rewords it.
type Decision struct {
	Kind            DecisionKind `json:"kind"`
	Notes           string       `json:"notes,omitempty"`
	ModifiedSummary string       `json:"modified_summary,omitempty"`
	DueGameTime     *time.Time   `json:"due_game_time,omitempty"`
}

// Record is the immutable history entry for a decided approval.
type Record struct {
	Approval  PendingApproval `json:"approval"`
	Decision  Decision        `json:"decision"`
	DecidedAt time.Time       `json:"decided_at"`
}

// Gate queues approvals and routes decisions. Approved actions flow to the
// enqueue sink (immediate) or the schedule sink (future due time); the gate
// itself never touches engine state directly.
type Gate struct {
	mu      sync.Mutex
	pending map[string]PendingApproval
	order   []string
	decided []Record

	enqueue  func(a PendingApproval, summary string)
	schedule func(a PendingApproval, summary string, due time.Time)
}

// NewGate wires the gate to its event sinks.
func NewGate(enqueue func(PendingApproval, string), schedule func(PendingApproval, string, time.Time)) *Gate {
	return &Gate{
		pending:  make(map[string]PendingApproval),
		enqueue:  enqueue,
		schedule: schedule,
	}
}

// Submit queues an approval and returns its id.
func (g *Gate) Submit(a PendingApproval) string {
	if a.ID == "" {
		a.ID = "apr_" + uuid.NewString()[:8]
	}
	if a.Urgency == "" {
		a.Urgency = UrgencyNormal
	}
	g.mu.Lock()
	g.pending[a.ID] = a
	g.order = append(g.order, a.ID)
	g.mu.Unlock()
	slog.Info("approval requested",
		"id", a.ID,
		"agent", a.AgentID,
		"urgency", a.Urgency,
		"summary", a.Summary,
	)
	return a.ID
}

// Pending returns queued approvals in submission order.
func (g *Gate) Pending() []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingApproval, 0, len(g.pending))
	for _, id := range g.order {
		if a, ok := g.pending[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Decided returns the decision history.
func (g *Gate) Decided() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Record, len(g.decided))
	copy(out, g.decided)
	return out
}

// Decide consumes a pending approval exactly once. Reject discards; approve
// without a due time enqueues an immediate event; approve with a future due
// time schedules one. now is the current virtual time and bounds any due
// time from below.
func (g *Gate) Decide(id string, d Decision, now time.Time) error {
	g.mu.Lock()
	a, ok := g.pending[id]
	if !ok {
		for _, r := range g.decided {
			if r.Approval.ID == id {
				g.mu.Unlock()
				return fmt.Errorf("approval %s: %w", id, ErrAlreadyDecided)
			}
		}
		g.mu.Unlock()
		return fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}

	if d.Kind != DecisionApprove && d.Kind != DecisionModify && d.Kind != DecisionReject {
		g.mu.Unlock()
		return fmt.Errorf("unknown decision kind %q", d.Kind)
	}
	if d.DueGameTime != nil && d.DueGameTime.Before(now) {
		g.mu.Unlock()
		return fmt.Errorf("due time %s is before current game time", d.DueGameTime.Format(time.RFC3339))
	}

	delete(g.pending, id)
	g.decided = append(g.decided, Record{Approval: a, Decision: d, DecidedAt: now})
	g.mu.Unlock()

	summary := a.Summary
	if d.ModifiedSummary != "" {
		summary = d.ModifiedSummary
	}

	switch d.Kind {
	case DecisionReject:
		slog.Info("approval rejected", "id", id, "agent", a.AgentID)
	default:
		if d.DueGameTime != nil {
			g.schedule(a, summary, *d.DueGameTime)
			slog.Info("approval scheduled",
				"id", id,
				"agent", a.AgentID,
				"due", d.DueGameTime.Format(time.RFC3339),
			)
		} else {
			g.enqueue(a, summary)
			slog.Info("approval granted", "id", id, "agent", a.AgentID)
		}
	}
	return nil
}

// State captures the gate for persistence.
type State struct {
	Pending []PendingApproval `json:"pending"`
	Decided []Record          `json:"decided"`
}

// Snapshot copies gate contents for saving.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := State{Decided: make([]Record, len(g.decided))}
	copy(st.Decided, g.decided)
	for _, id := range g.order {
		if a, ok := g.pending[id]; ok {
			st.Pending = append(st.Pending, a)
		}
	}
	return st
}

// Restore replaces gate contents from a saved snapshot.
func (g *Gate) Restore(st State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[string]PendingApproval, len(st.Pending))
	g.order = g.order[:0]
	for _, a := range st.Pending {
		g.pending[a.ID] = a
		g.order = append(g.order, a.ID)
	}
	g.decided = make([]Record, len(st.Decided))
	copy(g.decided, st.Decided)
}
