package catalog

import (
	"fmt"
	"strings"

	"leadgate/internal/snapshot"
)

// Predicate is a compiled eligibility rule evaluated against a snapshot.
// Compilation happens once at catalog load; evaluation is a pure tree walk.
type Predicate interface {
	Eval(s *snapshot.Snapshot) bool
}

// CompareOp is the leaf comparison operator.
type CompareOp string

const (
	OpEq       CompareOp = "eq"        // field equals value
	OpIn       CompareOp = "in"        // field is one of the values
	OpAnyKnown CompareOp = "any_known" // any key in the group has a concrete value
)

// Compare is a leaf node comparing one fact against expected values.
type Compare struct {
	Field  string // dotted path, or a group name for OpAnyKnown
	Op     CompareOp
	Values []string
}

// And, Or and Not are the interior nodes of the predicate tree.
type (
	And []Predicate
	Or  []Predicate
	Not struct{ P Predicate }
)

// True is the empty-rule predicate.
type True struct{}

func (True) Eval(*snapshot.Snapshot) bool { return true }

func (a And) Eval(s *snapshot.Snapshot) bool {
	for _, p := range a {
		if !p.Eval(s) {
			return false
		}
	}
	return true
}

func (o Or) Eval(s *snapshot.Snapshot) bool {
	for _, p := range o {
		if p.Eval(s) {
			return true
		}
	}
	return false
}

func (n Not) Eval(s *snapshot.Snapshot) bool { return !n.P.Eval(s) }

func (c Compare) Eval(s *snapshot.Snapshot) bool {
	switch c.Op {
	case OpAnyKnown:
		if c.Field == "accounts" {
			return s.HasAccount()
		}
		return false
	case OpEq, OpIn:
		got := lookup(s, c.Field)
		for _, v := range c.Values {
			if got == v {
				return true
			}
		}
		return false
	}
	return false
}

func lookup(s *snapshot.Snapshot, field string) string {
	parts := strings.SplitN(field, ".", 2)
	if len(parts) != 2 {
		return ""
	}
	switch parts[0] {
	case "accounts":
		return s.Accounts[parts[1]]
	case "deposit":
		return s.Deposit[parts[1]]
	case "agreements":
		return boolStr(s.Agreements[parts[1]])
	case "flags":
		return boolStr(s.Flags[parts[1]])
	}
	return ""
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// phrases maps each recognized PT-BR rule phrase to its compiled form. The
// rule language is a configuration-authoring convenience: anything outside
// this table is a configuration error at load time.
var phrases = map[string]Predicate{
	"concordou em depositar": Compare{Field: "agreements.can_deposit", Op: OpEq, Values: []string{"true"}},
	"quer testar":            Compare{Field: "agreements.wants_test", Op: OpEq, Values: []string{"true"}},
	"quer teste":             Compare{Field: "agreements.wants_test", Op: OpEq, Values: []string{"true"}},
	"já depositou":           Compare{Field: "deposit.status", Op: OpIn, Values: []string{snapshot.DepositPending, snapshot.DepositConfirmed}},
	"depósito confirmado":    Compare{Field: "deposit.status", Op: OpEq, Values: []string{snapshot.DepositConfirmed}},
	"tem conta":              Compare{Field: "accounts", Op: OpAnyKnown},
	"foi explicado":          Compare{Field: "flags.explained", Op: OpEq, Values: []string{"true"}},
	"foi onboardado":         Compare{Field: "flags.onboarded", Op: OpEq, Values: []string{"true"}},
}

// negations that do not follow the regular "não " + positive form.
var irregularNegations = map[string]string{
	"não depositou": "já depositou",
}

// CompilePredicate turns a PT-BR eligibility phrase into a predicate tree.
// Phrases are joined by " ou " (OR) at the outer level and " e " (AND)
// inside each alternative; "não " negates a phrase. An empty rule compiles
// to True. Unknown phrases are configuration errors.
func CompilePredicate(rule string) (Predicate, error) {
	rule = strings.TrimSpace(strings.ToLower(rule))
	if rule == "" {
		return True{}, nil
	}

	var alternatives Or
	for _, alt := range strings.Split(rule, " ou ") {
		var conjuncts And
		for _, phrase := range strings.Split(alt, " e ") {
			p, err := compilePhrase(strings.TrimSpace(phrase))
			if err != nil {
				return nil, err
			}
			conjuncts = append(conjuncts, p)
		}
		if len(conjuncts) == 1 {
			alternatives = append(alternatives, conjuncts[0])
		} else {
			alternatives = append(alternatives, conjuncts)
		}
	}

	if len(alternatives) == 1 {
		return alternatives[0], nil
	}
	return alternatives, nil
}

func compilePhrase(phrase string) (Predicate, error) {
	if p, ok := phrases[phrase]; ok {
		return p, nil
	}
	if positive, ok := irregularNegations[phrase]; ok {
		return Not{P: phrases[positive]}, nil
	}
	if rest, ok := strings.CutPrefix(phrase, "não "); ok {
		if p, ok := phrases[strings.TrimSpace(rest)]; ok {
			return Not{P: p}, nil
		}
	}
	return nil, fmt.Errorf("unrecognized rule phrase %q", phrase)
}
