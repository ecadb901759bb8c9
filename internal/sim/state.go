package sim

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Context is the shared mutable state of one running game: the event log,
// the pending queue, and deferred scheduled events. All mutation happens
// under one mutex held only for the enqueue/dequeue critical section, never
// across an oracle call.
type Context struct {
	mu        sync.Mutex
	events    []*Event
	index     map[string]*Event
	queue     []string // pending event ids, FIFO
	scheduled []*ScheduledEvent
	archived  []Event
}

// NewContext creates empty shared state.
func NewContext() *Context {
	return &Context{index: make(map[string]*Event)}
}

// AddEvent appends an event to the log and, if it awaits resolution, to the
// pending queue.
func (c *Context) AddEvent(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	c.index[ev.ID] = ev
	if ev.Status == StatusPending {
		c.queue = append(c.queue, ev.ID)
	}
}

// DrainPending removes up to n event ids from the queue and returns copies
// of their events. The originals stay in the log; terminal transitions go
// through ResolveEvent.
func (c *Context) DrainPending(n int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.queue) {
		n = len(c.queue)
	}
	out := make([]Event, 0, n)
	for _, id := range c.queue[:n] {
		if ev, ok := c.index[id]; ok {
			out = append(out, *ev)
		}
	}
	c.queue = c.queue[n:]
	return out
}

// RequeueEvents puts drained-but-unresolved events back on the queue, used
// when a batch oracle call fails transiently. Terminal events are never
// re-queued.
func (c *Context) RequeueEvents(ids []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range ids {
		ev, ok := c.index[id]
		if !ok || ev.Status.Terminal() {
			continue
		}
		c.queue = append(c.queue, id)
		n++
	}
	return n
}

// PendingCount returns the queue depth.
func (c *Context) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// ResolveEvent moves a pending event to a terminal status with its outcome
// text, dropping its id from the queue if it is still there. Terminal
// statuses are final; a second transition is rejected and the event is never
// re-queued.
func (c *Context) ResolveEvent(id string, status ResolutionStatus, outcome string) error {
	if !status.Terminal() {
		return fmt.Errorf("event %s: %q is not a terminal status", id, status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.index[id]
	if !ok {
		return fmt.Errorf("event %s: not found", id)
	}
	if ev.Status.Terminal() {
		return fmt.Errorf("event %s: already %s", id, ev.Status)
	}
	ev.Status = status
	ev.Outcome = outcome
	for i, qid := range c.queue {
		if qid == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	return nil
}

// Event returns a copy of one event.
func (c *Context) Event(id string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.index[id]
	if !ok {
		return Event{}, false
	}
	return *ev, true
}

// Events returns copies of the live log, oldest first.
func (c *Context) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, *ev)
	}
	return out
}

// AgentEvents returns copies of one agent's live events.
func (c *Context) AgentEvents(agentID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.AgentID == agentID {
			out = append(out, *ev)
		}
	}
	return out
}

// AddScheduled registers a deferred event.
func (c *Context) AddScheduled(se ScheduledEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := se
	c.scheduled = append(c.scheduled, &cp)
}

// CancelScheduled removes a still-pending scheduled event by id.
func (c *Context) CancelScheduled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, se := range c.scheduled {
		if se.ID == id {
			c.scheduled = append(c.scheduled[:i], c.scheduled[i+1:]...)
			slog.Info("scheduled event canceled", "id", id)
			return true
		}
	}
	return false
}

// Scheduled returns copies of pending scheduled events ordered by due time.
func (c *Context) Scheduled() []ScheduledEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ScheduledEvent, 0, len(c.scheduled))
	for _, se := range c.scheduled {
		out = append(out, *se)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueGameTime.Before(out[j].DueGameTime) })
	return out
}

// PopDueScheduled removes and returns every scheduled event whose due time
// has passed, ordered by due time.
func (c *Context) PopDueScheduled(now time.Time) []ScheduledEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []ScheduledEvent
	remaining := c.scheduled[:0]
	for _, se := range c.scheduled {
		if !se.DueGameTime.After(now) {
			due = append(due, *se)
		} else {
			remaining = append(remaining, se)
		}
	}
	c.scheduled = remaining
	sort.Slice(due, func(i, j int) bool { return due[i].DueGameTime.Before(due[j].DueGameTime) })
	return due
}

// Archive moves terminal events older than age out of the live log. Keeps
// the working set lean on long runs; archived events remain queryable.
func (c *Context) Archive(now time.Time, age time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.events[:0]
	moved := 0
	for _, ev := range c.events {
		if ev.Status.Terminal() && now.Sub(ev.GameTime) > age {
			c.archived = append(c.archived, *ev)
			delete(c.index, ev.ID)
			moved++
		} else {
			kept = append(kept, ev)
		}
	}
	c.events = kept
	if moved > 0 {
		slog.Info("events archived", "count", moved, "total_archived", len(c.archived))
	}
	return moved
}

// Archived returns copies of archived events.
func (c *Context) Archived() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.archived))
	copy(out, c.archived)
	return out
}

// ContextState is the serializable form of the shared state.
type ContextState struct {
	Events    []Event          `json:"events"`
	Queue     []string         `json:"queue"`
	Scheduled []ScheduledEvent `json:"scheduled"`
	Archived  []Event          `json:"archived"`
}

// Snapshot copies the context for persistence.
func (c *Context) Snapshot() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ContextState{
		Events:    make([]Event, 0, len(c.events)),
		Queue:     make([]string, len(c.queue)),
		Scheduled: make([]ScheduledEvent, 0, len(c.scheduled)),
		Archived:  make([]Event, len(c.archived)),
	}
	for _, ev := range c.events {
		st.Events = append(st.Events, *ev)
	}
	copy(st.Queue, c.queue)
	for _, se := range c.scheduled {
		st.Scheduled = append(st.Scheduled, *se)
	}
	copy(st.Archived, c.archived)
	return st
}

// Restore replaces the context from a saved snapshot.
func (c *Context) Restore(st ContextState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make([]*Event, 0, len(st.Events))
	c.index = make(map[string]*Event, len(st.Events))
	for i := range st.Events {
		ev := st.Events[i]
		c.events = append(c.events, &ev)
		c.index[ev.ID] = &ev
	}
	c.queue = make([]string, len(st.Queue))
	copy(c.queue, st.Queue)
	c.scheduled = make([]*ScheduledEvent, 0, len(st.Scheduled))
	for i := range st.Scheduled {
		se := st.Scheduled[i]
		c.scheduled = append(c.scheduled, &se)
	}
	c.archived = make([]Event, len(st.Archived))
	copy(c.archived, st.Archived)
}
