package geo

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// NoiseMap is the built-in Map implementation. Zones get a stable
// terrain-derived detection difficulty from simplex noise, entity positions
// are tracked per zone, and movements complete when game time passes their
// arrival.
type NoiseMap struct {
	now   func() time.Time
	noise opensimplex.Noise

	mu        sync.Mutex
	zones     map[string]float64 // zone -> detection difficulty
	positions map[string]string  // entity -> zone
	moves     []movement
	events    []Event
}

type movement struct {
	entityID string
	target   string
	arriveAt time.Time
}

// NewNoiseMap builds a map over the named zones. now returns current game
// time; seed fixes the terrain noise so difficulty is reproducible.
func NewNoiseMap(zones []string, seed int64, now func() time.Time) *NoiseMap {
	m := &NoiseMap{
		now:       now,
		noise:     opensimplex.NewNormalized(seed),
		zones:     make(map[string]float64, len(zones)),
		positions: make(map[string]string),
	}
	for i, z := range zones {
		// One noise sample per zone, spread along a line so neighbors differ.
		m.zones[z] = 0.2 + 0.6*m.noise.Eval2(float64(i)*0.7, 0.3)
	}
	return m
}

// StartMovement begins relocating an entity toward a zone. The entity leaves
// its current zone immediately and arrives after durationMinutes of game
// time.
func (m *NoiseMap) StartMovement(entityID, targetZone string, durationMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[targetZone]; !ok {
		return fmt.Errorf("unknown zone %q", targetZone)
	}
	if durationMinutes < 0 {
		return fmt.Errorf("negative movement duration %d", durationMinutes)
	}
	delete(m.positions, entityID)
	m.moves = append(m.moves, movement{
		entityID: entityID,
		target:   targetZone,
		arriveAt: m.now().Add(time.Duration(durationMinutes) * time.Minute),
	})
	slog.Info("movement started",
		"entity", entityID,
		"target", targetZone,
		"duration_minutes", durationMinutes,
	)
	return nil
}

// CheckSpatialClash reports entities already in the zone and how hard the
// terrain makes detecting the action.
func (m *NoiseMap) CheckSpatialClash(zone, actionType string) Clash {
	m.mu.Lock()
	defer m.mu.Unlock()
	var present []string
	for ent, z := range m.positions {
		if z == zone {
			present = append(present, ent)
		}
	}
	difficulty, ok := m.zones[zone]
	if !ok {
		difficulty = 0.5
	}
	// Covert actions are harder to spot than overt ones in the same terrain.
	if actionType == "intelligence" {
		difficulty = min(1, difficulty+0.2)
	}
	return Clash{
		HasClash:            len(present) > 0,
		Entities:            present,
		DetectionDifficulty: difficulty,
	}
}

// CreateGeoEvent records a map-visible event.
func (m *NoiseMap) CreateGeoEvent(ev Event) {
	if ev.ID == "" {
		ev.ID = "geo_" + uuid.NewString()[:8]
	}
	if ev.GameTime.IsZero() {
		ev.GameTime = m.now()
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Advance completes movements whose arrival time has passed. Called once per
// scheduler pass.
func (m *NoiseMap) Advance(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var arrived []string
	remaining := m.moves[:0]
	for _, mv := range m.moves {
		if !mv.arriveAt.After(now) {
			m.positions[mv.entityID] = mv.target
			arrived = append(arrived, mv.entityID)
			slog.Info("movement completed", "entity", mv.entityID, "zone", mv.target)
		} else {
			remaining = append(remaining, mv)
		}
	}
	m.moves = remaining
	return arrived
}

// Zone returns an entity's current zone, if it has arrived anywhere.
func (m *NoiseMap) Zone(entityID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.positions[entityID]
	return z, ok
}

// Events returns recorded geo events.
func (m *NoiseMap) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
