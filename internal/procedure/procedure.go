// Package procedure runs multi-step funnels against a lead snapshot.
// Steps are evaluated strictly in declared order; the first unmet step
// fires its fallback and ends the turn. Progress is purely a function of
// accumulated facts, so re-entry always restarts from the first step.
package procedure

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"leadgate/internal/catalog"
	"leadgate/internal/snapshot"
)

// Definition is one declarative funnel.
type Definition struct {
	ID    string `yaml:"id"`
	Steps []Step `yaml:"steps"`
}

// Step is one gate in the funnel. Condition is a PT-BR rule compiled at load
// time; Fallback names the automation fired when the condition is unmet.
// Final, when set on the last step, fires after every condition holds.
type Step struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Fallback  string `yaml:"fallback"`
	Final     string `yaml:"final,omitempty"`
}

// Set holds the loaded procedures with compiled step conditions.
type Set struct {
	defs       []Definition
	conditions map[string][]catalog.Predicate // procedure id -> per-step predicates
}

// Load reads procedures from a YAML file and validates them against the
// catalog: every condition must compile, every referenced automation must
// exist. Violations are configuration errors.
func Load(path string, cat *catalog.Catalog) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading procedures %s: %w", path, err)
	}

	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing procedures %s: %w", path, err)
	}

	return New(defs, cat)
}

// New builds a Set from already-parsed definitions.
func New(defs []Definition, cat *catalog.Catalog) (*Set, error) {
	set := &Set{
		defs:       defs,
		conditions: make(map[string][]catalog.Predicate, len(defs)),
	}

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("procedure with empty id")
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate procedure id %q", def.ID)
		}
		seen[def.ID] = true
		if len(def.Steps) == 0 {
			return nil, fmt.Errorf("procedure %q: no steps", def.ID)
		}

		preds := make([]catalog.Predicate, len(def.Steps))
		for i, step := range def.Steps {
			p, err := catalog.CompilePredicate(step.Condition)
			if err != nil {
				return nil, fmt.Errorf("procedure %q step %q: %w", def.ID, step.Name, err)
			}
			preds[i] = p

			if step.Fallback == "" {
				return nil, fmt.Errorf("procedure %q step %q: missing fallback", def.ID, step.Name)
			}
			if cat.Get(step.Fallback) == nil {
				return nil, fmt.Errorf("procedure %q step %q: fallback references unknown automation %q",
					def.ID, step.Name, step.Fallback)
			}
			if step.Final != "" && cat.Get(step.Final) == nil {
				return nil, fmt.Errorf("procedure %q step %q: final references unknown automation %q",
					def.ID, step.Name, step.Final)
			}
		}
		set.conditions[def.ID] = preds
	}

	return set, nil
}

// Len returns the number of loaded procedures.
func (s *Set) Len() int { return len(s.defs) }

// Get returns a procedure definition by id, or nil.
func (s *Set) Get(id string) *Definition {
	for i := range s.defs {
		if s.defs[i].ID == id {
			return &s.defs[i]
		}
	}
	return nil
}

// Outcome is the result of one evaluation pass over a procedure.
type Outcome struct {
	ProcedureID string
	StepName    string // unmet step, or last step when complete
	Automation  string // fallback or final automation to fire; empty when done with no final
	Complete    bool   // every condition held
}

// Run evaluates the procedure against the snapshot. It short-circuits at the
// first unmet condition and never evaluates later steps.
func (s *Set) Run(id string, snap *snapshot.Snapshot) (*Outcome, error) {
	def := s.Get(id)
	if def == nil {
		return nil, fmt.Errorf("unknown procedure %q", id)
	}

	preds := s.conditions[id]
	for i, step := range def.Steps {
		if preds[i].Eval(snap) {
			continue
		}
		return &Outcome{
			ProcedureID: id,
			StepName:    step.Name,
			Automation:  step.Fallback,
		}, nil
	}

	last := def.Steps[len(def.Steps)-1]
	return &Outcome{
		ProcedureID: id,
		StepName:    last.Name,
		Automation:  last.Final,
		Complete:    true,
	}, nil
}
