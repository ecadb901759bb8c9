// Package geo is the spatial collaborator surface the engine consumes:
// movement starts, spatial-clash queries, and geo-event creation. The
// coordinate model itself lives outside the engine.
package geo

import "time"

// Clash describes other tracked entities present in a zone when an action
// lands there.
type Clash struct {
	HasClash            bool     `json:"has_clash"`
	Entities            []string `json:"entities"`
	DetectionDifficulty float64  `json:"detection_difficulty"`
}

// Event is a geographically visible occurrence projected onto the map.
type Event struct {
	ID            string    `json:"id"`
	Zone          string    `json:"zone"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	SourceEventID string    `json:"source_event_id,omitempty"`
	GameTime      time.Time `json:"game_time"`
}

// Map is the movement-start and spatial-clash surface the engine calls.
type Map interface {
	StartMovement(entityID, targetZone string, durationMinutes int) error
	CheckSpatialClash(zone, actionType string) Clash
	CreateGeoEvent(ev Event)
}
