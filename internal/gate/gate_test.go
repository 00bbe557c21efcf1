package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadgate/internal/catalog"
	"leadgate/internal/db"
	"leadgate/internal/leadctx"
	"leadgate/internal/llm"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Automation{
		{ID: "oferta_teste", Output: catalog.Output{Text: "Consegue depositar?"}},
		{ID: "ajuda_deposito", Output: catalog.Output{Text: "Posso te ajudar com o depósito."}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

func testTargets(t *testing.T, cat *catalog.Catalog) *Targets {
	t.Helper()
	ts, err := NewTargets([]Target{
		{
			ID:    "confirm_can_deposit",
			OnYes: &Effect{Facts: map[string]any{"agreements.can_deposit": true}, Message: "Perfeito! Vou liberar seu acesso."},
			OnNo:  &Effect{Facts: map[string]any{"agreements.can_deposit": false}, Automation: "ajuda_deposito"},
		},
	}, cat)
	if err != nil {
		t.Fatalf("NewTargets: %v", err)
	}
	return ts
}

func setupGate(t *testing.T, provider llm.Provider, mode Mode) (*Gate, *leadctx.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cat := testCatalog(t)
	targets := testTargets(t, cat)
	contexts := leadctx.NewStore(database)
	snapshots := snapshot.NewStore(database)

	cfg := DefaultConfig()
	cfg.Mode = mode
	return New(database, targets, contexts, snapshots, cat, provider, leadctx.NewLocks(), cfg), contexts
}

func armWaiting(t *testing.T, contexts *leadctx.Store, leadID string) {
	t.Helper()
	now := time.Now()
	err := contexts.SetWaiting(context.Background(), leadID, leadctx.Waiting{
		Target:       "confirm_can_deposit",
		AutomationID: "oferta_teste",
		PromptText:   "Consegue depositar?",
		ExpiresAt:    now.Add(30 * time.Minute),
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatalf("SetWaiting: %v", err)
	}
}

func TestNoPendingPassesThrough(t *testing.T) {
	g, _ := setupGate(t, nil, ModeDetOnly)

	r, err := g.Process(context.Background(), "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled {
		t.Errorf("handled with no pending confirmation: %+v", r)
	}
	if r.Reason != "no_pending_confirmation" {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestShortYesResolvesWaitingSlot(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || r.Polarity != PolarityYes || r.Source != SourceShort {
		t.Fatalf("result = %+v", r)
	}
	if r.Retroactive {
		t.Error("direct resolution marked retroactive")
	}

	var sawFacts, sawClear bool
	for _, a := range r.Actions {
		switch a.Type {
		case plan.ActionSetFacts:
			sawFacts = true
			if v, ok := a.SetFacts["agreements.can_deposit"].(bool); !ok || !v {
				t.Errorf("set_facts = %+v", a.SetFacts)
			}
		case plan.ActionClearWaiting:
			sawClear = true
		}
	}
	if !sawFacts || !sawClear {
		t.Errorf("missing effect actions: %+v", r.Actions)
	}
}

func TestShortNoFiresHelpAutomation(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "não", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || r.Polarity != PolarityNo {
		t.Fatalf("result = %+v", r)
	}

	var sawHelp bool
	for _, a := range r.Actions {
		if a.Type == plan.ActionRunAutomation && a.AutomationID == "ajuda_deposito" {
			sawHelp = true
		}
	}
	if !sawHelp {
		t.Errorf("help automation not emitted: %+v", r.Actions)
	}
}

func TestClearWaitingPrecedesFollowUpAutomation(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "não", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	clearAt, runAt := -1, -1
	for i, a := range r.Actions {
		switch a.Type {
		case plan.ActionClearWaiting:
			clearAt = i
		case plan.ActionRunAutomation:
			runAt = i
		}
	}
	if clearAt == -1 || runAt == -1 {
		t.Fatalf("missing actions: %+v", r.Actions)
	}
	// Applied in order, a trailing clear would wipe the waiting slot the
	// follow-up automation just armed.
	if clearAt > runAt {
		t.Errorf("clear_waiting at %d after run_automation at %d", clearAt, runAt)
	}
}

func TestDeferralClearsWithoutFacts(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "depois", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || r.Polarity != PolarityOther {
		t.Fatalf("result = %+v", r)
	}
	if len(r.Actions) != 1 || r.Actions[0].Type != plan.ActionClearWaiting {
		t.Errorf("deferral should only clear the slot: %+v", r.Actions)
	}
}

func TestRepeatedReplyIsIdempotent(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")
	ctx := context.Background()

	first, err := g.Process(ctx, "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if !first.Handled {
		t.Fatalf("first result = %+v", first)
	}

	// The slot survives here because applying the plan is the caller's job.
	second, err := g.Process(ctx, "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.Handled {
		t.Errorf("repeated reply re-applied: %+v", second)
	}
	if second.Reason != "idempotent_skip" {
		t.Errorf("reason = %q", second.Reason)
	}
}

func TestRetroactiveRecoveryFromTimeline(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	ctx := context.Background()

	// Slot write lost upstream; only the timeline entry exists.
	err := contexts.AppendTimeline(ctx, leadctx.TimelineEntry{
		LeadID:       "lead-1",
		AutomationID: "oferta_teste",
		Target:       "confirm_can_deposit",
		PromptText:   "Consegue depositar?",
	})
	if err != nil {
		t.Fatalf("AppendTimeline: %v", err)
	}

	r, err := g.Process(ctx, "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || !r.Retroactive || r.Polarity != PolarityYes {
		t.Fatalf("result = %+v", r)
	}

	// Consumed entries cannot resolve a second confirmation.
	entry, err := contexts.LatestTimelineEntry(ctx, "lead-1", time.Hour)
	if err != nil {
		t.Fatalf("LatestTimelineEntry: %v", err)
	}
	if entry != nil {
		t.Errorf("timeline entry not consumed: %+v", entry)
	}
}

func TestExpiredSlotWithoutTimelinePassesThrough(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	ctx := context.Background()

	now := time.Now()
	err := contexts.SetWaiting(ctx, "lead-1", leadctx.Waiting{
		Target:    "confirm_can_deposit",
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("SetWaiting: %v", err)
	}

	r, err := g.Process(ctx, "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled || r.Reason != "no_pending_confirmation" {
		t.Errorf("result = %+v", r)
	}
}

func TestUnlistedWaitingTargetIgnored(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	ctx := context.Background()

	now := time.Now()
	err := contexts.SetWaiting(ctx, "lead-1", leadctx.Waiting{
		Target:    "confirm_unknown_thing",
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("SetWaiting: %v", err)
	}

	r, err := g.Process(ctx, "lead-1", "sim", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled {
		t.Errorf("unlisted target resolved: %+v", r)
	}
}

func TestAmbiguousMessagePassesThrough(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "qual o horário de funcionamento?", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled || r.Reason != "no_match" {
		t.Errorf("result = %+v", r)
	}
}

func TestNegationBeatsEmbeddedAffirmative(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "olha, eu não quero fazer isso agora", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || r.Polarity != PolarityNo {
		t.Errorf("result = %+v", r)
	}
}

func TestHedgedReplyPassesThrough(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	// "não sei" is uncertainty, not a hard no: no facts may be set.
	r, err := g.Process(context.Background(), "lead-1", "não sei se consigo hoje", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled {
		t.Errorf("hedged reply resolved as a confirmation: %+v", r)
	}
	if r.Reason != "no_match" {
		t.Errorf("reason = %q, want no_match", r.Reason)
	}
}

func TestNoPhraseNeedsWordBoundary(t *testing.T) {
	g, contexts := setupGate(t, nil, ModeDetOnly)
	armWaiting(t, contexts, "lead-1")

	// "nao" embedded in another word is not a negative.
	r, err := g.Process(context.Background(), "lead-1", "o robô está funcionaonado bem para vocês?", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled && r.Polarity == PolarityNo {
		t.Errorf("embedded substring matched as no: %+v", r)
	}
}

func TestLLMClassification(t *testing.T) {
	provider := &fakeProvider{
		content: `{"matches": true, "polarity": "yes", "confidence": 0.92, "reason": "afirmação clara"}`,
	}
	g, contexts := setupGate(t, provider, ModeLLMFirst)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "acabei de resolver tudo por aqui, pode seguir em frente", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || r.Source != SourceLLM || r.Polarity != PolarityYes {
		t.Fatalf("result = %+v", r)
	}
	if r.Confidence != 0.92 {
		t.Errorf("confidence = %v", r.Confidence)
	}
}

func TestLLMLowConfidenceNotApplied(t *testing.T) {
	provider := &fakeProvider{
		content: `{"matches": true, "polarity": "yes", "confidence": 0.55, "reason": "talvez"}`,
	}
	g, contexts := setupGate(t, provider, ModeLLMFirst)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "acho que talvez role em breve por aqui", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Handled {
		t.Errorf("low-confidence classification applied: %+v", r)
	}
}

func TestLLMFailureFallsBackToPhrases(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream unavailable")}
	g, contexts := setupGate(t, provider, ModeLLMFirst)
	armWaiting(t, contexts, "lead-1")

	r, err := g.Process(context.Background(), "lead-1", "infelizmente não consigo agora de jeito nenhum", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !r.Handled || r.Polarity != PolarityNo || r.Source != SourceFallback {
		t.Errorf("result = %+v", r)
	}
}

func TestTargetsValidation(t *testing.T) {
	cat := testCatalog(t)

	cases := []struct {
		name string
		defs []Target
	}{
		{"missing id", []Target{{OnYes: &Effect{}}}},
		{"duplicate id", []Target{{ID: "a"}, {ID: "a"}}},
		{"unknown automation", []Target{{ID: "a", OnNo: &Effect{Automation: "nope"}}}},
		{"english deposit status", []Target{{ID: "a", OnYes: &Effect{Facts: map[string]any{"deposit.status": "pending"}}}}},
		{"non-string deposit status", []Target{{ID: "a", OnYes: &Effect{Facts: map[string]any{"deposit.status": true}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTargets(tc.defs, cat); err == nil {
				t.Error("expected configuration error")
			}
		})
	}

	valid := []Target{{ID: "ok", OnYes: &Effect{Facts: map[string]any{"deposit.status": snapshot.DepositPending}}}}
	if _, err := NewTargets(valid, cat); err != nil {
		t.Errorf("NewTargets rejected a known deposit status: %v", err)
	}
}

func TestTargetTTLDefaults(t *testing.T) {
	cat := testCatalog(t)
	ts, err := NewTargets([]Target{
		{ID: "a"},
		{ID: "b", TTLSeconds: 90},
	}, cat)
	if err != nil {
		t.Fatalf("NewTargets: %v", err)
	}

	if ttl, ok := ts.TTLFor("a"); !ok || ttl != DefaultReplyTTL {
		t.Errorf("TTLFor(a) = %v, %v", ttl, ok)
	}
	if ttl, ok := ts.TTLFor("b"); !ok || ttl != 90*time.Second {
		t.Errorf("TTLFor(b) = %v, %v", ttl, ok)
	}
	if _, ok := ts.TTLFor("missing"); ok {
		t.Error("TTLFor returned a TTL for an unlisted target")
	}
}
