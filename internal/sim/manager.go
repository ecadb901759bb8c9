package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/statecraft/internal/approval"
	"github.com/talgya/statecraft/internal/geo"
	"github.com/talgya/statecraft/internal/kpi"
	"github.com/talgya/statecraft/internal/memory"
	"github.com/talgya/statecraft/internal/oracle"
	"github.com/talgya/statecraft/internal/situation"
)

// Store is the persistence collaborator: opaque load/save of the engine's
// serialized state, keyed by game id.
type Store interface {
	LoadState(gameID string) ([]byte, error)
	SaveState(gameID string, blob []byte) error
}

// Options configures one simulation instance.
type Options struct {
	GameID    string
	StartTime time.Time
	Speed     float64

	// TickInterval is the wall-clock period of the driver loop.
	TickInterval time.Duration
	// ResolverInterval is the virtual time between resolver passes.
	ResolverInterval time.Duration
	// SaveInterval is the wall-clock period of the periodic save.
	SaveInterval time.Duration
	// ArchiveAfter is the virtual age at which terminal events leave the
	// live log.
	ArchiveAfter time.Duration

	BatchSize      int
	ActionWeights  map[ActionType]float64
	ApprovalPolicy []ApprovalPattern
	Agents         []AgentSpec
}

// Collaborators are the external systems the engine fans out to. Decider
// and Resolver are required; the rest may be nil.
type Collaborators struct {
	Decider  oracle.Decider
	Resolver oracle.BatchResolver
	Map      geo.Map
	Memories memory.Distributor
	Store    Store
}

// Manager owns one running simulation: the clock, the two periodic loops,
// and the shared context. Construct one per active game; switching games
// means stopping this one first.
type Manager struct {
	opts   Options
	collab Collaborators

	Clock      *GameClock
	Ctx        *Context
	Roster     *Roster
	Scheduler  *Scheduler
	Gate       *approval.Gate
	KPIs       *kpi.Manager
	Situations *situation.Tracker

	processor *EventProcessor
	resolver  *ResolverProcessor

	running atomic.Bool
	stopped atomic.Bool
	loopWG  sync.WaitGroup
	cancel  context.CancelFunc
}

// NewManager validates configuration and wires the components. All
// configuration problems surface here as ConfigError; nothing fails
// mid-tick for a reason that was knowable at startup.
func NewManager(opts Options, kpis *kpi.Manager, situations *situation.Tracker, collab Collaborators) (*Manager, error) {
	if opts.Speed <= 0 {
		return nil, configErr("speed", "must be > 0, got %v", opts.Speed)
	}
	if collab.Decider == nil || collab.Resolver == nil {
		return nil, configErr("collaborators", "decision and batch-resolve oracles are required")
	}
	if len(opts.Agents) == 0 {
		return nil, configErr("agents", "at least one agent is required")
	}
	for _, a := range opts.Agents {
		if a.ID == "" || a.Entity == "" {
			return nil, configErr("agents", "agent with empty id or entity")
		}
		if a.Cadence <= 0 {
			return nil, configErr("agents", "agent %s has non-positive cadence", a.ID)
		}
	}
	for at := range opts.ActionWeights {
		if !ValidActionType(string(at)) {
			return nil, configErr("action_weights", "unknown action type %q", at)
		}
	}
	for _, p := range opts.ApprovalPolicy {
		if len(p.ActionTypes) == 0 && len(p.Keywords) == 0 {
			return nil, configErr("approval_policy", "pattern %s matches nothing", p.Name)
		}
		for _, at := range p.ActionTypes {
			if !ValidActionType(string(at)) {
				return nil, configErr("approval_policy", "pattern %s names unknown action type %q", p.Name, at)
			}
		}
	}

	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ResolverInterval <= 0 {
		opts.ResolverInterval = 30 * time.Second
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 30 * time.Second
	}
	if opts.ArchiveAfter <= 0 {
		opts.ArchiveAfter = time.Hour
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now().UTC()
	}

	clock, err := NewGameClock(opts.StartTime, opts.Speed)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		opts:       opts,
		collab:     collab,
		Clock:      clock,
		Ctx:        NewContext(),
		Roster:     NewRoster(opts.Agents),
		KPIs:       kpis,
		Situations: situations,
	}

	m.Gate = approval.NewGate(m.enqueueApproved, m.scheduleApproved)
	m.Scheduler = NewScheduler(m.Roster, opts.ActionWeights, m.situationUrgency, opts.StartTime)
	m.processor = NewEventProcessor(m.Ctx, m.Roster, m.Gate, collab.Map, collab.Memories, opts.ApprovalPolicy)
	m.resolver = NewResolverProcessor(m.Ctx, m.Roster, collab.Resolver, kpis, situations, collab.Map, collab.Memories, opts.BatchSize)
	return m, nil
}

// enqueueApproved is the gate's immediate sink: the approved action becomes
// a pending event for the next resolver pass.
func (m *Manager) enqueueApproved(a approval.PendingApproval, summary string) {
	now := m.Clock.Now()
	ev := &Event{
		ID:            NewEventID(),
		AgentID:       a.AgentID,
		Entity:        a.Entity,
		ActionType:    CoerceActionType(a.ActionType),
		Summary:       summary,
		IsPublic:      true,
		Status:        StatusPending,
		ParentEventID: a.ID,
		CreatedAt:     time.Now(),
		GameTime:      now,
	}
	m.Ctx.AddEvent(ev)
}

// scheduleApproved is the gate's deferred sink.
func (m *Manager) scheduleApproved(a approval.PendingApproval, summary string, due time.Time) {
	m.Ctx.AddScheduled(ScheduledEvent{
		ID:               "sch_" + uuid.NewString()[:8],
		AgentID:          a.AgentID,
		Entity:           a.Entity,
		ActionType:       CoerceActionType(a.ActionType),
		Summary:          summary,
		DueGameTime:      due,
		SourceApprovalID: a.ID,
	})
}

// situationUrgency shortens cadences for entities caught in an active
// situation.
func (m *Manager) situationUrgency(entity string) float64 {
	for _, s := range m.Situations.Active() {
		for _, e := range s.Entities {
			if e == entity {
				return 0.5
			}
		}
	}
	return 1.0
}

// Start begins the clock and the driver loop. Starting a running manager is
// an error.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("simulation already running")
	}
	m.stopped.Store(false)
	m.Clock.Start()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loopWG.Add(1)
	go m.driverLoop(ctx)

	slog.Info("simulation started",
		"game", m.opts.GameID,
		"agents", len(m.opts.Agents),
		"speed", m.opts.Speed,
	)
	return nil
}

// Stop sets the stop flag, halts the clock and loops, and saves. In-flight
// oracle calls complete on their own but their results are discarded.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return fmt.Errorf("simulation not running")
	}
	m.stopped.Store(true)
	m.cancel()
	m.loopWG.Wait()
	m.Clock.Stop()

	if err := m.Save(); err != nil {
		slog.Error("final save failed", "error", err)
	}
	slog.Info("simulation stopped", "game", m.opts.GameID, "game_time", m.Clock.Now().Format(time.RFC3339))
	return nil
}

// Running reports whether the driver loop is active.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// driverLoop is the single wall-clock ticker behind both periodic tasks.
// Scheduler passes run on every tick; resolver passes run once enough
// virtual time has accumulated, so speed changes take effect without
// restarting any timer.
func (m *Manager) driverLoop(ctx context.Context) {
	defer m.loopWG.Done()

	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	var sinceResolver time.Duration
	var sinceSave time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		gameDelta := m.Clock.Advance(m.opts.TickInterval)
		now := m.Clock.Now()

		m.SchedulerPass(ctx, now)

		sinceResolver += gameDelta
		if sinceResolver >= m.opts.ResolverInterval {
			sinceResolver = 0
			go func() {
				m.resolver.RunCycle(ctx, now, m.stopped.Load)
				m.Ctx.Archive(m.Clock.Now(), m.opts.ArchiveAfter)
			}()
		}

		sinceSave += m.opts.TickInterval
		if sinceSave >= m.opts.SaveInterval {
			sinceSave = 0
			if err := m.Save(); err != nil {
				slog.Error("periodic save failed", "error", err)
			}
		}
	}
}

// SchedulerPass promotes due scheduled events, sweeps movements, and fans
// out one decision request per due agent. Completions land in the pending
// queue in whatever order the oracle answers.
func (m *Manager) SchedulerPass(ctx context.Context, now time.Time) {
	m.Scheduler.Promote(m.Ctx, now)

	if sweeper, ok := m.collab.Map.(interface{ Advance(time.Time) []string }); ok {
		sweeper.Advance(now)
	}

	for _, agentID := range m.Scheduler.Due(now) {
		go m.requestDecision(ctx, agentID, now)
	}
}

// requestDecision runs one oracle round-trip for one agent. A slow or
// failed call delays only this agent; the queue mutex is never held across
// the call.
func (m *Manager) requestDecision(ctx context.Context, agentID string, now time.Time) {
	sp, ok := m.Roster.Agent(agentID)
	if !ok {
		return
	}

	dc := oracle.DecisionContext{
		AgentID:  agentID,
		Entity:   sp.Entity,
		GameTime: now,
		Agenda:   sp.Agenda,
	}
	if rec, ok := m.collab.Memories.(interface{ Recent(string, int) []string }); ok {
		dc.Memory = rec.Recent(agentID, 20)
	}

	raw, err := m.collab.Decider.Decide(ctx, dc)
	if m.stopped.Load() {
		return
	}
	if err != nil {
		// Transient: skip this turn, the agent retries on its next due cycle.
		slog.Warn("decision oracle failed, turn skipped", "agent", agentID, "error", err)
		return
	}

	_, acted := m.processor.Process(agentID, raw, m.Clock.Now())
	m.Scheduler.Reschedule(agentID, m.Clock.Now(), acted)
}

// GameState is the engine's serialized form: everything the engine itself
// reads and writes, stored as one opaque blob by the persistence
// collaborator.
type GameState struct {
	GameID     string                    `json:"game_id"`
	GameTime   time.Time                 `json:"game_time"`
	Speed      float64                   `json:"speed"`
	Context    ContextState              `json:"context"`
	KPIs       kpi.State                 `json:"kpis"`
	Situations []situation.Situation     `json:"situations"`
	Approvals  approval.State            `json:"approvals"`
	DueTimes   map[string]time.Time      `json:"due_times"`
	Memories   map[string][]memory.Entry `json:"memories,omitempty"`
}

// Snapshot captures the full engine state.
func (m *Manager) Snapshot() GameState {
	st := GameState{
		GameID:     m.opts.GameID,
		GameTime:   m.Clock.Now(),
		Speed:      m.Clock.Speed(),
		Context:    m.Ctx.Snapshot(),
		KPIs:       m.KPIs.Snapshot(),
		Situations: m.Situations.Snapshot(),
		Approvals:  m.Gate.Snapshot(),
		DueTimes:   m.Scheduler.DueTimesSnapshot(),
	}
	if store, ok := m.collab.Memories.(*memory.Store); ok {
		st.Memories = store.Snapshot()
	}
	return st
}

// Save serializes the engine state to the persistence collaborator. A nil
// store makes Save a no-op, which in-memory tests rely on.
func (m *Manager) Save() error {
	if m.collab.Store == nil {
		return nil
	}
	blob, err := json.Marshal(m.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal game state: %w", err)
	}
	if err := m.collab.Store.SaveState(m.opts.GameID, blob); err != nil {
		return fmt.Errorf("save game %s: %w", m.opts.GameID, err)
	}
	return nil
}

// Load restores engine state from the persistence collaborator. Must be
// called before Start.
func (m *Manager) Load() error {
	if m.collab.Store == nil {
		return nil
	}
	blob, err := m.collab.Store.LoadState(m.opts.GameID)
	if err != nil {
		return fmt.Errorf("load game %s: %w", m.opts.GameID, err)
	}
	if len(blob) == 0 {
		return nil
	}
	var st GameState
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("decode game state: %w", err)
	}

	m.Clock.SetGameTime(st.GameTime)
	if st.Speed > 0 {
		if err := m.Clock.SetSpeed(st.Speed); err != nil {
			return err
		}
	}
	m.Ctx.Restore(st.Context)
	m.KPIs.Restore(st.KPIs)
	m.Situations.Restore(st.Situations)
	m.Gate.Restore(st.Approvals)
	m.Scheduler.RestoreDueTimes(st.DueTimes)
	if store, ok := m.collab.Memories.(*memory.Store); ok && st.Memories != nil {
		store.Restore(st.Memories)
	}

	slog.Info("game state restored",
		"game", m.opts.GameID,
		"game_time", st.GameTime.Format(time.RFC3339),
		"events", len(st.Context.Events),
		"pending", len(st.Context.Queue),
	)
	return nil
}

// Status summarizes the running simulation.
type Status struct {
	Running      bool      `json:"running"`
	GameID       string    `json:"game_id"`
	GameTime     time.Time `json:"game_time"`
	Speed        float64   `json:"speed"`
	AgentCount   int       `json:"agent_count"`
	EventCount   int       `json:"event_count"`
	PendingCount int       `json:"pending_count"`
	Approvals    int       `json:"approvals_pending"`
}

// CurrentStatus reports engine vitals.
func (m *Manager) CurrentStatus() Status {
	return Status{
		Running:      m.running.Load(),
		GameID:       m.opts.GameID,
		GameTime:     m.Clock.Now(),
		Speed:        m.Clock.Speed(),
		AgentCount:   len(m.Roster.AgentIDs()),
		EventCount:   len(m.Ctx.Events()),
		PendingCount: m.Ctx.PendingCount(),
		Approvals:    len(m.Gate.Pending()),
	}
}

// RunResolverNow triggers one resolver pass outside the periodic schedule,
// for operator tooling and tests.
func (m *Manager) RunResolverNow(ctx context.Context) CycleStats {
	return m.resolver.RunCycle(ctx, m.Clock.Now(), m.stopped.Load)
}
