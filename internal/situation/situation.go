// Package situation tracks long-running conditions (sieges, blockades,
// negotiations) that evolve through phases and drip effects over virtual
// time, independent of individual events.
package situation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/statecraft/internal/kpi"
)

// Phase is a situation's lifecycle stage. Transitions are monotonic:
// emerging -> active -> resolving -> completed.
type Phase string

const (
	PhaseEmerging  Phase = "emerging"
	PhaseActive    Phase = "active"
	PhaseResolving Phase = "resolving"
	PhaseCompleted Phase = "completed"
)

// Effect is one applied cumulative delta, recorded append-only.
type Effect struct {
	Entity    string    `json:"entity"`
	Metric    string    `json:"metric"`
	Delta     float64   `json:"delta"`
	AppliedAt time.Time `json:"applied_at"`
}

// DripEffect applies a fixed delta at most once per interval while the
// situation is active or resolving.
type DripEffect struct {
	Entity   string        `json:"entity"`
	Metric   string        `json:"metric"`
	Delta    float64       `json:"delta"`
	Interval time.Duration `json:"interval"`
}

// Condition is a declarative predicate over current KPIs. Op is "lte" or
// "gte". A zero Condition holds trivially, so duration-only situations
// complete on the first resolving tick.
type Condition struct {
	Entity string  `json:"entity,omitempty"`
	Metric string  `json:"metric,omitempty"`
	Op     string  `json:"op,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

func (c Condition) holds(kpis *kpi.Manager) bool {
	if c.Metric == "" {
		return true
	}
	v, ok := kpis.MetricValue(c.Entity, c.Metric)
	if !ok {
		return false
	}
	switch c.Op {
	case "lte":
		return v <= c.Value
	case "gte":
		return v >= c.Value
	default:
		return false
	}
}

// Situation is one long-running condition. Once completed the record is
// immutable history.
type Situation struct {
	ID                string        `json:"id"`
	Type              string        `json:"type"`
	Phase             Phase         `json:"phase"`
	StartedAt         time.Time     `json:"started_at"`
	ExpectedDuration  time.Duration `json:"expected_duration"`
	InitiatingAgent   string        `json:"initiating_agent,omitempty"`
	Entities          []string      `json:"entities,omitempty"`
	Description       string        `json:"description"`
	CumulativeEffects []Effect      `json:"cumulative_effects"`
	Resolution        Condition     `json:"resolution"`
	Drip              *DripEffect   `json:"drip,omitempty"`

	lastDrip time.Time
}

// Tracker holds all situations for one game.
type Tracker struct {
	mu         sync.Mutex
	situations []*Situation
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Start registers a new situation. Creation passes through emerging and
// promotes to active immediately.
func (t *Tracker) Start(s *Situation) *Situation {
	if s.ID == "" {
		s.ID = "sit_" + uuid.NewString()[:8]
	}
	s.Phase = PhaseActive
	t.mu.Lock()
	t.situations = append(t.situations, s)
	t.mu.Unlock()
	slog.Info("situation started",
		"id", s.ID,
		"type", s.Type,
		"expected_duration", s.ExpectedDuration,
	)
	return s
}

// Active returns situations not yet completed.
func (t *Tracker) Active() []*Situation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Situation
	for _, s := range t.situations {
		if s.Phase != PhaseCompleted {
			out = append(out, s)
		}
	}
	return out
}

// All returns every tracked situation, completed included.
func (t *Tracker) All() []*Situation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Situation, len(t.situations))
	copy(out, t.situations)
	return out
}

// Get returns a situation by id.
func (t *Tracker) Get(id string) (*Situation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.situations {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Tick advances phases against elapsed virtual time and applies at most one
// cumulative effect per active/resolving situation. Runs inside the resolver
// pass, so KPI writes keep their single writer.
func (t *Tracker) Tick(now time.Time, kpis *kpi.Manager) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.situations {
		switch s.Phase {
		case PhaseActive:
			if now.Sub(s.StartedAt) >= s.ExpectedDuration {
				s.Phase = PhaseResolving
				slog.Info("situation resolving", "id", s.ID, "type", s.Type)
			}
			t.applyDrip(s, now, kpis)
		case PhaseResolving:
			if s.Resolution.holds(kpis) {
				s.Phase = PhaseCompleted
				slog.Info("situation completed",
					"id", s.ID,
					"type", s.Type,
					"effects", len(s.CumulativeEffects),
				)
				continue
			}
			t.applyDrip(s, now, kpis)
		}
	}
}

func (t *Tracker) applyDrip(s *Situation, now time.Time, kpis *kpi.Manager) {
	if s.Drip == nil {
		return
	}
	if s.lastDrip.IsZero() {
		s.lastDrip = s.StartedAt
	}
	if now.Sub(s.lastDrip) < s.Drip.Interval {
		return
	}
	reason := fmt.Sprintf("%s (%s)", s.Description, s.Type)
	if _, ok := kpis.ApplyDelta(s.Drip.Entity, s.Drip.Metric, s.Drip.Delta, reason, s.ID, now); ok {
		s.CumulativeEffects = append(s.CumulativeEffects, Effect{
			Entity:    s.Drip.Entity,
			Metric:    s.Drip.Metric,
			Delta:     s.Drip.Delta,
			AppliedAt: now,
		})
	}
	s.lastDrip = now
}

// Snapshot copies all situations for persistence.
func (t *Tracker) Snapshot() []Situation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Situation, 0, len(t.situations))
	for _, s := range t.situations {
		out = append(out, *s)
	}
	return out
}

// Restore replaces tracker contents from a saved snapshot. The drip cursor
// is not serialized, so it is rebuilt from the last recorded effect to keep
// the interval honest across a save/load.
func (t *Tracker) Restore(saved []Situation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.situations = make([]*Situation, 0, len(saved))
	for i := range saved {
		s := saved[i]
		if n := len(s.CumulativeEffects); n > 0 {
			s.lastDrip = s.CumulativeEffects[n-1].AppliedAt
		}
		t.situations = append(t.situations, &s)
	}
}
