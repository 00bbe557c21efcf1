package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog holds the loaded automations with their compiled predicates,
// preserving declaration order for selection tie-breaks.
type Catalog struct {
	entries    []Automation
	predicates map[string]Predicate
	byID       map[string]*Automation
}

// Load reads and compiles a catalog from a YAML file. Every eligibility rule
// is compiled here so unparseable rules surface as configuration errors
// before any turn runs.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var entries []Automation
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	return New(entries)
}

// New builds a catalog from already-parsed entries, compiling and validating
// every rule.
func New(entries []Automation) (*Catalog, error) {
	c := &Catalog{
		entries:    entries,
		predicates: make(map[string]Predicate, len(entries)),
		byID:       make(map[string]*Automation, len(entries)),
	}

	for i := range entries {
		a := &c.entries[i]
		if a.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: missing id", i)
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate automation id %q", a.ID)
		}
		if a.Priority < 0 || a.Priority > 1 {
			return nil, fmt.Errorf("automation %q: priority %v out of [0,1]", a.ID, a.Priority)
		}
		if a.ExpectsReply != nil && a.ExpectsReply.Target == "" {
			return nil, fmt.Errorf("automation %q: expects_reply without target", a.ID)
		}

		p, err := CompilePredicate(a.Eligibility)
		if err != nil {
			return nil, fmt.Errorf("automation %q: %w", a.ID, err)
		}
		c.predicates[a.ID] = p
		c.byID[a.ID] = a
	}

	return c, nil
}

// Get returns the automation with the given id, or nil.
func (c *Catalog) Get(id string) *Automation {
	return c.byID[id]
}

// Predicate returns the compiled eligibility predicate for an automation id.
func (c *Catalog) Predicate(id string) Predicate {
	return c.predicates[id]
}

// Entries returns the automations in declaration order.
func (c *Catalog) Entries() []Automation {
	return c.entries
}

// Len returns the number of automations.
func (c *Catalog) Len() int {
	return len(c.entries)
}
