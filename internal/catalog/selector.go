package catalog

import (
	"time"

	"leadgate/internal/snapshot"
)

// SelectInput is everything selection may consult. Selection is a pure
// function of snapshot + catalog + cooldown ledger; it never calls out.
type SelectInput struct {
	Snapshot *snapshot.Snapshot
	LastSent map[string]time.Time // automation id -> last successful send for this lead
	Now      time.Time
}

// Select returns the highest-priority eligible automation whose cooldown has
// elapsed, or nil when none qualifies. Ties on priority keep catalog
// declaration order.
func (c *Catalog) Select(in SelectInput) *Automation {
	var best *Automation
	for i := range c.entries {
		a := &c.entries[i]
		if !c.predicates[a.ID].Eval(in.Snapshot) {
			continue
		}
		if !c.CooldownElapsed(a.ID, in.LastSent, in.Now) {
			continue
		}
		if best == nil || a.Priority > best.Priority {
			best = a
		}
	}
	return best
}

// Eligible reports whether a single automation's predicate holds for the
// snapshot. Unknown ids are never eligible.
func (c *Catalog) Eligible(id string, s *snapshot.Snapshot) bool {
	p, ok := c.predicates[id]
	return ok && p.Eval(s)
}

// CooldownElapsed reports whether the automation may be sent again given the
// lead's send ledger.
func (c *Catalog) CooldownElapsed(id string, lastSent map[string]time.Time, now time.Time) bool {
	a := c.byID[id]
	if a == nil {
		return false
	}
	sent, ok := lastSent[id]
	if !ok {
		return true
	}
	return now.Sub(sent) >= a.Cooldown()
}
