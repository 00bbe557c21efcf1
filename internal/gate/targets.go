// Package gate interprets an inbound message as a yes/no/other reply to a
// question the system previously asked. It runs before normal orchestration
// and short-circuits the turn when it resolves a pending confirmation.
package gate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"leadgate/internal/catalog"
	"leadgate/internal/snapshot"
)

// DefaultReplyTTL bounds how long a waiting slot stays answerable when the
// target does not set its own ttl.
const DefaultReplyTTL = 30 * time.Minute

// Effect describes what a resolved polarity does: facts to set, an optional
// follow-up automation, and an optional reply text.
type Effect struct {
	Facts      map[string]any `yaml:"facts,omitempty"`
	Automation string         `yaml:"automation,omitempty"`
	Message    string         `yaml:"message,omitempty"`
}

// Target is one entry of the confirmation-target whitelist. Only whitelisted
// targets may arm a waiting slot or apply confirmation effects.
type Target struct {
	ID         string  `yaml:"id"`
	TTLSeconds int     `yaml:"ttl_seconds,omitempty"`
	OnYes      *Effect `yaml:"on_yes,omitempty"`
	OnNo       *Effect `yaml:"on_no,omitempty"`
}

// TTL returns how long a reply to this target remains valid.
func (t *Target) TTL() time.Duration {
	if t.TTLSeconds > 0 {
		return time.Duration(t.TTLSeconds) * time.Second
	}
	return DefaultReplyTTL
}

// Targets is the validated whitelist of confirmation targets.
type Targets struct {
	entries []Target
	byID    map[string]*Target
}

// LoadTargets reads a YAML target list and validates it against the catalog.
func LoadTargets(path string, cat *catalog.Catalog) (*Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading confirmation targets: %w", err)
	}
	var defs []Target
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing confirmation targets %s: %w", path, err)
	}
	return NewTargets(defs, cat)
}

// NewTargets validates target definitions. Referencing an automation that is
// not in the catalog is a configuration error caught here, before any turn
// runs.
func NewTargets(defs []Target, cat *catalog.Catalog) (*Targets, error) {
	ts := &Targets{
		entries: make([]Target, 0, len(defs)),
		byID:    make(map[string]*Target, len(defs)),
	}
	for i, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("confirmation target %d: missing id", i)
		}
		if _, dup := ts.byID[def.ID]; dup {
			return nil, fmt.Errorf("confirmation target %q: duplicate id", def.ID)
		}
		for _, effect := range []*Effect{def.OnYes, def.OnNo} {
			if effect == nil {
				continue
			}
			if err := validateEffectFacts(def.ID, effect.Facts); err != nil {
				return nil, err
			}
			if effect.Automation == "" {
				continue
			}
			if cat != nil && cat.Get(effect.Automation) == nil {
				return nil, fmt.Errorf("confirmation target %q: unknown automation %q", def.ID, effect.Automation)
			}
		}
		ts.entries = append(ts.entries, def)
		ts.byID[def.ID] = &ts.entries[len(ts.entries)-1]
	}
	return ts, nil
}

// validateEffectFacts rejects effect fact values the predicate language
// cannot see. deposit.status must use the snapshot's PT-BR constants: a
// target setting "pending" would leave "já depositou" false forever.
func validateEffectFacts(targetID string, facts map[string]any) error {
	v, ok := facts["deposit.status"]
	if !ok {
		return nil
	}
	s, isStr := v.(string)
	if !isStr || (s != snapshot.DepositPending && s != snapshot.DepositConfirmed) {
		return fmt.Errorf("confirmation target %q: deposit.status must be %q or %q, got %v",
			targetID, snapshot.DepositPending, snapshot.DepositConfirmed, v)
	}
	return nil
}

// Get returns the target definition, or nil if the id is not whitelisted.
func (ts *Targets) Get(id string) *Target {
	return ts.byID[id]
}

// Known reports whether the target id is on the whitelist.
func (ts *Targets) Known(id string) bool {
	_, ok := ts.byID[id]
	return ok
}

// TTLFor reports the reply TTL for a whitelisted target. It satisfies the
// plan applier's target lookup, so only whitelisted targets can arm a
// waiting slot.
func (ts *Targets) TTLFor(id string) (time.Duration, bool) {
	t, ok := ts.byID[id]
	if !ok {
		return 0, false
	}
	return t.TTL(), true
}

// Len returns the number of whitelisted targets.
func (ts *Targets) Len() int {
	return len(ts.entries)
}
