// Package scenario loads and validates simulation definitions: the world's
// entities and agents, the KPI rulebook, approval policy, and engine
// settings, all from one YAML file.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/statecraft/internal/approval"
	"github.com/talgya/statecraft/internal/kpi"
	"github.com/talgya/statecraft/internal/sim"
)

// Scenario models a scenario YAML file.
type Scenario struct {
	Game struct {
		ID        string  `yaml:"id"`
		Title     string  `yaml:"title"`
		StartTime string  `yaml:"start_time"`
		Speed     float64 `yaml:"speed"`
	} `yaml:"game"`
	Engine struct {
		TickSeconds     int `yaml:"tick_seconds"`
		ResolverSeconds int `yaml:"resolver_seconds"`
		SaveSeconds     int `yaml:"save_seconds"`
		ArchiveMinutes  int `yaml:"archive_minutes"`
		BatchSize       int `yaml:"batch_size"`
	} `yaml:"engine"`
	Zones    []string           `yaml:"zones"`
	Entities map[string]Entity  `yaml:"entities"`
	Rules    kpi.RuleTable      `yaml:"rules"`
	Weights  map[string]float64 `yaml:"action_weights"`
	Approval []ApprovalRule     `yaml:"approval_policy"`
}

// Entity is one state actor: its metrics and the agents acting for it.
type Entity struct {
	Metrics map[string]MetricDef `yaml:"metrics"`
	Agents  []AgentDef           `yaml:"agents"`
}

// MetricDef is a metric's starting value and bounds.
type MetricDef struct {
	Value    float64 `yaml:"value"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Constant bool    `yaml:"constant"`
}

// AgentDef is one agent's identity and behavior settings.
type AgentDef struct {
	ID               string `yaml:"id"`
	Agenda           string `yaml:"agenda"`
	CadenceSeconds   int    `yaml:"cadence_seconds"`
	Disabled         bool   `yaml:"disabled"`
	ReportsToCommand bool   `yaml:"reports_to_command"`
}

// ApprovalRule is one escalation trigger in the approval policy.
type ApprovalRule struct {
	Name        string   `yaml:"name"`
	ActionTypes []string `yaml:"action_types"`
	Keywords    []string `yaml:"keywords"`
	Urgency     string   `yaml:"urgency"`
}

// FromFile reads and validates a scenario from path.
func FromFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return FromYAML(data)
}

// FromYAML parses and validates a scenario from raw YAML bytes.
func FromYAML(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("invalid scenario yaml: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate ensures the scenario meets required structure. The engine
// re-validates its own options at construction; this pass catches what only
// the config layer can see, like rule action types and urgency spellings.
func (s *Scenario) Validate() error {
	if s.Game.ID == "" {
		return fmt.Errorf("scenario.game.id is required")
	}
	if s.Game.Speed < 0 {
		return fmt.Errorf("scenario.game.speed must be positive, got %v", s.Game.Speed)
	}
	if s.Game.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, s.Game.StartTime); err != nil {
			return fmt.Errorf("scenario.game.start_time: %w", err)
		}
	}
	if len(s.Entities) == 0 {
		return fmt.Errorf("scenario.entities is required")
	}
	agentIDs := map[string]string{}
	for name, ent := range s.Entities {
		if name == "" {
			return fmt.Errorf("scenario.entities contains an empty entity name")
		}
		for metric, def := range ent.Metrics {
			if metric == "" {
				return fmt.Errorf("entity %s has a metric with empty name", name)
			}
			if def.Max < def.Min {
				return fmt.Errorf("entity %s metric %s: max %v below min %v", name, metric, def.Max, def.Min)
			}
			if def.Value < def.Min || def.Value > def.Max {
				return fmt.Errorf("entity %s metric %s: value %v outside [%v, %v]", name, metric, def.Value, def.Min, def.Max)
			}
		}
		for _, a := range ent.Agents {
			if a.ID == "" {
				return fmt.Errorf("entity %s has an agent with empty id", name)
			}
			if prev, dup := agentIDs[a.ID]; dup {
				return fmt.Errorf("agent id %s defined under both %s and %s", a.ID, prev, name)
			}
			agentIDs[a.ID] = name
			if a.CadenceSeconds < 0 {
				return fmt.Errorf("agent %s has negative cadence", a.ID)
			}
		}
	}
	for action := range s.Rules {
		if !sim.ValidActionType(action) {
			return fmt.Errorf("rules name unknown action type %q", action)
		}
	}
	if err := s.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	for action := range s.Weights {
		if !sim.ValidActionType(action) {
			return fmt.Errorf("action_weights name unknown action type %q", action)
		}
	}
	for i, rule := range s.Approval {
		if rule.Name == "" {
			return fmt.Errorf("approval_policy[%d] has no name", i)
		}
		if len(rule.ActionTypes) == 0 && len(rule.Keywords) == 0 {
			return fmt.Errorf("approval rule %s matches nothing", rule.Name)
		}
		for _, at := range rule.ActionTypes {
			if !sim.ValidActionType(at) {
				return fmt.Errorf("approval rule %s names unknown action type %q", rule.Name, at)
			}
		}
		switch approval.Urgency(rule.Urgency) {
		case "", approval.UrgencyImmediate, approval.UrgencyHigh, approval.UrgencyNormal, approval.UrgencyLow:
		default:
			return fmt.Errorf("approval rule %s has unknown urgency %q", rule.Name, rule.Urgency)
		}
	}
	return nil
}

const (
	defaultCadence  = 5 * time.Minute
	defaultSpeed    = 1.0
	defaultResolver = 30 * time.Second
)

// Options converts the scenario into engine options. Zero-valued engine
// settings fall through to the engine's own defaults.
func (s *Scenario) Options() sim.Options {
	opts := sim.Options{
		GameID:           s.Game.ID,
		Speed:            s.Game.Speed,
		TickInterval:     time.Duration(s.Engine.TickSeconds) * time.Second,
		ResolverInterval: time.Duration(s.Engine.ResolverSeconds) * time.Second,
		SaveInterval:     time.Duration(s.Engine.SaveSeconds) * time.Second,
		ArchiveAfter:     time.Duration(s.Engine.ArchiveMinutes) * time.Minute,
		BatchSize:        s.Engine.BatchSize,
		Agents:           s.Agents(),
		ApprovalPolicy:   s.ApprovalPolicy(),
	}
	if opts.Speed == 0 {
		opts.Speed = defaultSpeed
	}
	if opts.ResolverInterval == 0 {
		opts.ResolverInterval = defaultResolver
	}
	if s.Game.StartTime != "" {
		opts.StartTime, _ = time.Parse(time.RFC3339, s.Game.StartTime)
	}
	if len(s.Weights) > 0 {
		opts.ActionWeights = make(map[sim.ActionType]float64, len(s.Weights))
		for k, v := range s.Weights {
			opts.ActionWeights[sim.ActionType(k)] = v
		}
	}
	return opts
}

// Agents flattens the per-entity agent definitions into engine agent specs.
func (s *Scenario) Agents() []sim.AgentSpec {
	var specs []sim.AgentSpec
	for entity, ent := range s.Entities {
		for _, a := range ent.Agents {
			cadence := time.Duration(a.CadenceSeconds) * time.Second
			if cadence == 0 {
				cadence = defaultCadence
			}
			specs = append(specs, sim.AgentSpec{
				ID:               a.ID,
				Entity:           entity,
				Agenda:           a.Agenda,
				Cadence:          cadence,
				Enabled:          !a.Disabled,
				ReportsToCommand: a.ReportsToCommand,
			})
		}
	}
	return specs
}

// ApprovalPolicy converts the YAML approval rules to engine patterns.
func (s *Scenario) ApprovalPolicy() []sim.ApprovalPattern {
	var patterns []sim.ApprovalPattern
	for _, rule := range s.Approval {
		p := sim.ApprovalPattern{
			Name:     rule.Name,
			Keywords: rule.Keywords,
			Urgency:  approval.Urgency(rule.Urgency),
		}
		if p.Urgency == "" {
			p.Urgency = approval.UrgencyNormal
		}
		for _, at := range rule.ActionTypes {
			p.ActionTypes = append(p.ActionTypes, sim.ActionType(at))
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// SeedKPIs loads every entity's metric definitions into a KPI manager.
func (s *Scenario) SeedKPIs(m *kpi.Manager) {
	for entity, ent := range s.Entities {
		for metric, def := range ent.Metrics {
			m.SetInitial(entity, metric, kpi.Metric{
				Value:    def.Value,
				Min:      def.Min,
				Max:      def.Max,
				Constant: def.Constant,
			})
		}
	}
}
