package catalog

import (
	"testing"
	"time"

	"leadgate/internal/snapshot"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New([]Automation{
		{
			ID:          "oferta_teste",
			Eligibility: "quer testar e não concordou em depositar",
			Priority:    0.9,
			Output:      Output{Type: "message", Text: "Consegue fazer um depósito?"},
			ExpectsReply: &ExpectsReply{
				Target: "confirm_can_deposit",
			},
			CooldownSeconds: 300,
		},
		{
			ID:          "explicar_robo",
			Eligibility: "não foi explicado",
			Priority:    0.7,
			Output:      Output{Type: "message", Text: "O robô funciona assim..."},
		},
		{
			ID:          "parabens_deposito",
			Eligibility: "depósito confirmado",
			Priority:    0.9,
			Output:      Output{Type: "message", Text: "Depósito confirmado!"},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCompilePredicate(t *testing.T) {
	tests := []struct {
		rule string
		prep func(*snapshot.Snapshot)
		want bool
	}{
		{"", nil, true},
		{"quer testar", func(s *snapshot.Snapshot) { s.Agreements["wants_test"] = true }, true},
		{"quer testar", nil, false},
		{"não concordou em depositar", nil, true},
		{"concordou em depositar", func(s *snapshot.Snapshot) { s.Agreements["can_deposit"] = true }, true},
		{"já depositou", func(s *snapshot.Snapshot) { s.Deposit["status"] = snapshot.DepositPending }, true},
		{"não depositou", func(s *snapshot.Snapshot) { s.Deposit["status"] = snapshot.DepositConfirmed }, false},
		{"tem conta", func(s *snapshot.Snapshot) { s.Accounts["nyrion"] = "ativo" }, true},
		{"não tem conta", nil, true},
		{"quer testar e tem conta", func(s *snapshot.Snapshot) { s.Agreements["wants_test"] = true }, false},
		{"quer testar ou tem conta", func(s *snapshot.Snapshot) { s.Accounts["quotex"] = "ativo" }, true},
	}

	for _, tt := range tests {
		p, err := CompilePredicate(tt.rule)
		if err != nil {
			t.Fatalf("CompilePredicate(%q): %v", tt.rule, err)
		}
		s := snapshot.New("lead-1")
		if tt.prep != nil {
			tt.prep(s)
		}
		if got := p.Eval(s); got != tt.want {
			t.Errorf("rule %q: got %v, want %v", tt.rule, got, tt.want)
		}
	}
}

func TestCompilePredicateUnknownPhrase(t *testing.T) {
	if _, err := CompilePredicate("frase que não existe"); err == nil {
		t.Fatal("expected configuration error for unknown phrase")
	}
}

func TestNewRejectsBadEntries(t *testing.T) {
	if _, err := New([]Automation{{ID: "a", Priority: 1.5}}); err == nil {
		t.Error("priority out of range accepted")
	}
	if _, err := New([]Automation{{ID: "a"}, {ID: "a"}}); err == nil {
		t.Error("duplicate id accepted")
	}
	if _, err := New([]Automation{{ID: "a", ExpectsReply: &ExpectsReply{}}}); err == nil {
		t.Error("expects_reply without target accepted")
	}
	if _, err := New([]Automation{{ID: "a", Eligibility: "gibberish"}}); err == nil {
		t.Error("uncompilable rule accepted")
	}
}

func TestSelectHighestPriority(t *testing.T) {
	c := testCatalog(t)
	s := snapshot.New("lead-1")
	s.Agreements["wants_test"] = true

	got := c.Select(SelectInput{Snapshot: s, Now: time.Now()})
	if got == nil || got.ID != "oferta_teste" {
		t.Fatalf("expected oferta_teste, got %+v", got)
	}
}

func TestSelectPriorityOrdering(t *testing.T) {
	s := snapshot.New("lead-1")
	c, err := New([]Automation{
		{ID: "low", Priority: 0.7},
		{ID: "high", Priority: 0.9},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := c.Select(SelectInput{Snapshot: s, Now: time.Now()})
	if got == nil || got.ID != "high" {
		t.Fatalf("expected high-priority entry, got %+v", got)
	}
}

func TestSelectTieBreakIsInsertionOrder(t *testing.T) {
	s := snapshot.New("lead-1")
	c, err := New([]Automation{
		{ID: "first", Priority: 0.8},
		{ID: "second", Priority: 0.8},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := c.Select(SelectInput{Snapshot: s, Now: time.Now()})
	if got == nil || got.ID != "first" {
		t.Fatalf("expected first entry on tie, got %+v", got)
	}
}

func TestSelectRespectsCooldown(t *testing.T) {
	c := testCatalog(t)
	s := snapshot.New("lead-1")
	s.Agreements["wants_test"] = true

	now := time.Now()
	lastSent := map[string]time.Time{"oferta_teste": now.Add(-1 * time.Minute)}

	got := c.Select(SelectInput{Snapshot: s, LastSent: lastSent, Now: now})
	if got != nil && got.ID == "oferta_teste" {
		t.Fatal("automation reselected inside its cooldown window")
	}

	// After the window the automation is available again.
	lastSent["oferta_teste"] = now.Add(-6 * time.Minute)
	got = c.Select(SelectInput{Snapshot: s, LastSent: lastSent, Now: now})
	if got == nil || got.ID != "oferta_teste" {
		t.Fatalf("expected oferta_teste after cooldown, got %+v", got)
	}
}

func TestSelectNoneEligible(t *testing.T) {
	c := testCatalog(t)
	s := snapshot.New("lead-1")
	s.Flags["explained"] = true

	if got := c.Select(SelectInput{Snapshot: s, Now: time.Now()}); got != nil {
		t.Fatalf("expected no selection, got %s", got.ID)
	}
}
