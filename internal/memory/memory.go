// Package memory is the distribution collaborator: resolved outcomes are
// pushed into the streams of agents the event is relevant to, capped per
// agent with lowest-value entries dropped first.
package memory

import (
	"sync"
	"time"
)

const maxEntries = 50

// Distributor receives an event summary for every agent deemed relevant.
type Distributor interface {
	Distribute(eventSummary string, relevantAgentIDs []string)
}

// Entry is one remembered line in an agent's stream.
type Entry struct {
	GameTime time.Time `json:"game_time"`
	Text     string    `json:"text"`
}

// Store is the built-in Distributor: bounded in-memory streams per agent.
type Store struct {
	now func() time.Time

	mu      sync.Mutex
	streams map[string][]Entry
}

// NewStore creates a store. now returns current game time for stamping
// entries.
func NewStore(now func() time.Time) *Store {
	return &Store{
		now:     now,
		streams: make(map[string][]Entry),
	}
}

// Distribute appends the summary to each relevant agent's stream.
func (s *Store) Distribute(eventSummary string, relevantAgentIDs []string) {
	stamp := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range relevantAgentIDs {
		stream := append(s.streams[id], Entry{GameTime: stamp, Text: eventSummary})
		if len(stream) > maxEntries {
			stream = stream[len(stream)-maxEntries:]
		}
		s.streams[id] = stream
	}
}

// Recent returns up to n latest entries for an agent, oldest first.
func (s *Store) Recent(agentID string, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream := s.streams[agentID]
	if len(stream) > n {
		stream = stream[len(stream)-n:]
	}
	out := make([]string, 0, len(stream))
	for _, e := range stream {
		out = append(out, e.Text)
	}
	return out
}

// Snapshot copies all streams for persistence.
func (s *Store) Snapshot() map[string][]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Entry, len(s.streams))
	for id, stream := range s.streams {
		cp := make([]Entry, len(stream))
		copy(cp, stream)
		out[id] = cp
	}
	return out
}

// Restore replaces all streams from a saved snapshot.
func (s *Store) Restore(saved map[string][]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]Entry, len(saved))
	for id, stream := range saved {
		cp := make([]Entry, len(stream))
		copy(cp, stream)
		s.streams[id] = cp
	}
}
