// Package kpi tracks bounded per-entity metrics and applies rule-based
// outcome effects. All metric mutation in the engine funnels through
// Manager; nothing else writes metric values after game creation.
package kpi

import (
	"fmt"
	"strings"
)

// Delta is one rolled metric change. Min/Max bound the roll; equal values
// mean a fixed delta. Entity may redirect the change to a different entity
// than the actor (e.g. an attack reducing the target's strength).
type Delta struct {
	Entity string `yaml:"entity" json:"entity"`
	Metric string `yaml:"metric" json:"metric"`
	Min    int    `yaml:"min" json:"min"`
	Max    int    `yaml:"max" json:"max"`
}

// Rule maps an action to its success odds and effects. Match keywords refine
// the rule within an action type; a rule with no keywords is that type's
// default.
type Rule struct {
	Match       []string `yaml:"match" json:"match"`
	SuccessRate float64  `yaml:"success_rate" json:"success_rate"`
	OnSuccess   []Delta  `yaml:"on_success" json:"on_success"`
	OnFailure   []Delta  `yaml:"on_failure" json:"on_failure"`
}

// minimalEffectRule resolves action types with no mapped rule: high success
// odds, no metric movement.
var minimalEffectRule = Rule{SuccessRate: 0.8}

// RuleTable holds the ordered rules per action type. Lookup is first
// keyword match wins, then the type's keywordless default, then the global
// minimal-effect rule.
type RuleTable map[string][]Rule

// Validate fails fast on malformed tables so bad config never reaches a
// tick. Every listed action type must carry at least one usable rule.
func (t RuleTable) Validate() error {
	for action, rules := range t {
		if len(rules) == 0 {
			return fmt.Errorf("action type %q has an empty rule list", action)
		}
		for i, r := range rules {
			if r.SuccessRate < 0 || r.SuccessRate > 1 {
				return fmt.Errorf("action type %q rule %d: success_rate %v outside [0,1]", action, i, r.SuccessRate)
			}
			for _, d := range append(append([]Delta{}, r.OnSuccess...), r.OnFailure...) {
				if d.Metric == "" {
					return fmt.Errorf("action type %q rule %d: delta with empty metric", action, i)
				}
				if d.Max < d.Min {
					return fmt.Errorf("action type %q rule %d: delta %s has max < min", action, i, d.Metric)
				}
			}
		}
	}
	return nil
}

// Lookup finds the best rule for an action and summary text.
func (t RuleTable) Lookup(action, summary string) Rule {
	rules, ok := t[action]
	if !ok {
		return minimalEffectRule
	}

	lower := strings.ToLower(summary)
	var fallback *Rule
	for i := range rules {
		r := &rules[i]
		if len(r.Match) == 0 {
			if fallback == nil {
				fallback = r
			}
			continue
		}
		for _, kw := range r.Match {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return *r
			}
		}
	}
	if fallback != nil {
		return *fallback
	}
	return minimalEffectRule
}
