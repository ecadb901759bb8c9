package kpi

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/statecraft/internal/entropy"
)

// Metric is one bounded value tracked for an entity. Constant metrics are
// fixed at game creation and never moved by rules.
type Metric struct {
	Value    float64 `json:"value"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Constant bool    `json:"constant,omitempty"`
}

// ChangeLogEntry records one applied metric change.
type ChangeLogEntry struct {
	Entity   string    `json:"entity"`
	Metric   string    `json:"metric"`
	Old      float64   `json:"old"`
	New      float64   `json:"new"`
	Delta    float64   `json:"delta"`
	CausedBy string    `json:"caused_by_event_id"`
	Reason   string    `json:"reason,omitempty"`
	GameTime time.Time `json:"game_time"`
}

// Outcome is the result of applying a rule to one event.
type Outcome struct {
	Success bool
	Changes []ChangeLogEntry
}

// Manager owns the metric tables and the rule engine. It is safe for
// concurrent reads; writes happen only from the resolver pass.
type Manager struct {
	mu      sync.RWMutex
	metrics map[string]map[string]*Metric
	rules   RuleTable
	rng     entropy.Source
	log     []ChangeLogEntry
}

// NewManager validates the rule table and returns a manager with empty
// metric tables.
func NewManager(rules RuleTable, rng entropy.Source) (*Manager, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rule table: %w", err)
	}
	if rng == nil {
		rng = entropy.NewCrypto()
	}
	return &Manager{
		metrics: make(map[string]map[string]*Metric),
		rules:   rules,
		rng:     rng,
	}, nil
}

// SetInitial seeds a metric at game creation. This is the only path that may
// write a constant metric.
func (m *Manager) SetInitial(entity, key string, metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics[entity] == nil {
		m.metrics[entity] = make(map[string]*Metric)
	}
	mc := metric
	m.metrics[entity][key] = &mc
}

// Apply looks up the rule for an event, draws success against its rate, and
// applies the corresponding deltas with clamping. Metrics not named by the
// rule are untouched. The draw is deterministic under a seeded source.
func (m *Manager) Apply(entity, action, summary, eventID string, gameTime time.Time) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule := m.rules.Lookup(action, summary)
	success := m.rng.Float64() < rule.SuccessRate

	deltas := rule.OnSuccess
	if !success {
		deltas = rule.OnFailure
	}

	out := Outcome{Success: success}
	for _, d := range deltas {
		target := d.Entity
		if target == "" {
			target = entity
		}
		roll := float64(m.rng.IntBetween(d.Min, d.Max))
		entry, ok := m.applyDeltaLocked(target, d.Metric, roll, summary, eventID, gameTime)
		if ok {
			out.Changes = append(out.Changes, entry)
		}
	}
	return out
}

// ApplyDelta applies a single pre-computed delta, clamped to the metric's
// range. Used by situation cumulative effects, which also run inside the
// resolver pass.
func (m *Manager) ApplyDelta(entity, metric string, delta float64, reason, causedBy string, gameTime time.Time) (ChangeLogEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(entity, metric, delta, reason, causedBy, gameTime)
}

func (m *Manager) applyDeltaLocked(entity, metric string, delta float64, reason, causedBy string, gameTime time.Time) (ChangeLogEntry, bool) {
	mc, ok := m.metrics[entity][metric]
	if !ok {
		slog.Warn("kpi delta for unknown metric", "entity", entity, "metric", metric)
		return ChangeLogEntry{}, false
	}
	if mc.Constant {
		slog.Warn("kpi delta targets constant metric, skipped", "entity", entity, "metric", metric)
		return ChangeLogEntry{}, false
	}

	old := mc.Value
	next := old + delta
	if next < mc.Min {
		next = mc.Min
	}
	if next > mc.Max {
		next = mc.Max
	}
	mc.Value = next

	entry := ChangeLogEntry{
		Entity:   entity,
		Metric:   metric,
		Old:      old,
		New:      next,
		Delta:    delta,
		CausedBy: causedBy,
		Reason:   reason,
		GameTime: gameTime,
	}
	m.log = append(m.log, entry)

	slog.Info("kpi updated",
		"entity", entity,
		"metric", metric,
		"old", old,
		"new", next,
		"caused_by", causedBy,
	)
	return entry, true
}

// MetricValue returns the current value of one metric. Implements the reader
// interface situation resolution conditions evaluate against.
func (m *Manager) MetricValue(entity, metric string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.metrics[entity][metric]
	if !ok {
		return 0, false
	}
	return mc.Value, true
}

// Entities lists every entity with at least one metric, for display.
func (m *Manager) Entities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.metrics))
	for e := range m.metrics {
		out = append(out, e)
	}
	return out
}

// EntityMetrics returns a copy of one entity's metric table.
func (m *Manager) EntityMetrics(entity string) map[string]Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Metric, len(m.metrics[entity]))
	for k, v := range m.metrics[entity] {
		out[k] = *v
	}
	return out
}

// ChangeLog returns a copy of the append-only change history.
func (m *Manager) ChangeLog() []ChangeLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChangeLogEntry, len(m.log))
	copy(out, m.log)
	return out
}

// State captures the metric tables and change log for persistence.
type State struct {
	Metrics   map[string]map[string]Metric `json:"metrics"`
	ChangeLog []ChangeLogEntry             `json:"change_log"`
}

// Snapshot copies the manager state for saving.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{Metrics: make(map[string]map[string]Metric, len(m.metrics))}
	for e, table := range m.metrics {
		st.Metrics[e] = make(map[string]Metric, len(table))
		for k, v := range table {
			st.Metrics[e][k] = *v
		}
	}
	st.ChangeLog = make([]ChangeLogEntry, len(m.log))
	copy(st.ChangeLog, m.log)
	return st
}

// Restore replaces the manager state from a saved snapshot.
func (m *Manager) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = make(map[string]map[string]*Metric, len(st.Metrics))
	for e, table := range st.Metrics {
		m.metrics[e] = make(map[string]*Metric, len(table))
		for k, v := range table {
			mc := v
			m.metrics[e][k] = &mc
		}
	}
	m.log = make([]ChangeLogEntry, len(st.ChangeLog))
	copy(m.log, st.ChangeLog)
}
