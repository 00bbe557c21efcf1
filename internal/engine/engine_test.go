package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"leadgate/internal/audit"
	"leadgate/internal/catalog"
	"leadgate/internal/db"
	"leadgate/internal/gate"
	"leadgate/internal/intake"
	"leadgate/internal/kb"
	"leadgate/internal/llm"
	"leadgate/internal/leadctx"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
	"leadgate/internal/vectordb"
)

type mockEmbedder struct{ dims int }

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dims)
		for j, ch := range text {
			vec[(int(ch)+j)%m.dims] += 1.0
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		results[i] = vec
	}
	return results, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }
func (m *mockEmbedder) Name() string    { return "mock" }

type recordingSender struct {
	mu   sync.Mutex
	sent []plan.Action
}

func (r *recordingSender) Send(_ context.Context, _ string, a plan.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return nil
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.sent {
		out = append(out, a.Text)
	}
	return out
}

type countingProvider struct {
	mu      sync.Mutex
	calls   int
	content string
}

func (p *countingProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &llm.CompletionResponse{Content: p.content}, nil
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	engine    *Engine
	sender    *recordingSender
	contexts  *leadctx.Store
	snapshots *snapshot.Store
	audits    *audit.Store
	gate      *gate.Gate
	orch      *Orchestrator
	applier   *plan.Applier
}

func setupEngine(t *testing.T, withKB bool) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cat, err := catalog.New([]catalog.Automation{
		{
			ID:          "oferta_teste",
			Eligibility: "quer testar",
			Priority:    0.9,
			Output:      catalog.Output{Text: "Consegue fazer um depósito para liberar o teste?"},
			ExpectsReply: &catalog.ExpectsReply{Target: "confirm_can_deposit"},
		},
		{
			ID:          "oferta_secundaria",
			Eligibility: "quer testar",
			Priority:    0.7,
			Output:      catalog.Output{Text: "Quer ver um vídeo de como funciona?"},
		},
		{
			ID:           "oferta_demo",
			Eligibility:  "depósito confirmado",
			Priority:     0.5,
			Output:       catalog.Output{Text: "Sem problema! Quer ver uma demonstração antes?"},
			ExpectsReply: &catalog.ExpectsReply{Target: "confirm_watch_demo"},
		},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	targets, err := gate.NewTargets([]gate.Target{
		{
			ID:         "confirm_can_deposit",
			TTLSeconds: 1800,
			OnYes:      &gate.Effect{Facts: map[string]any{"agreements.can_deposit": true}, Message: "Perfeito! Vou liberar seu acesso."},
			OnNo:       &gate.Effect{Facts: map[string]any{"agreements.can_deposit": false}, Automation: "oferta_demo"},
		},
		{
			ID:         "confirm_watch_demo",
			TTLSeconds: 900,
			OnYes:      &gate.Effect{Facts: map[string]any{"agreements.wants_demo": true}},
		},
	}, cat)
	if err != nil {
		t.Fatalf("NewTargets: %v", err)
	}

	contexts := leadctx.NewStore(database)
	snapshots := snapshot.NewStore(database)
	audits := audit.NewStore(database)
	sender := &recordingSender{}

	applier := plan.NewApplier(database, snapshots, contexts, cat, targets.TTLFor, sender)

	gateCfg := gate.DefaultConfig()
	gateCfg.Mode = gate.ModeDetOnly
	// The gate gets its own lock set: the engine already holds the lead's
	// turn lock when the gate runs.
	g := gate.New(database, targets, contexts, snapshots, cat, nil, leadctx.NewLocks(), gateCfg)

	var knowledge *kb.KB
	if withKB {
		store, err := vectordb.NewChromemStore(&mockEmbedder{dims: 64})
		if err != nil {
			t.Fatalf("NewChromemStore: %v", err)
		}
		knowledge = kb.New(store, nil, "")
		_, err = knowledge.IndexDocument(context.Background(), "kb/deposito.md",
			[]byte("# Depósito\n\nO depósito mínimo é de R$ 50, feito por PIX na corretora.\n"))
		if err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
	}

	orch := NewOrchestrator(cat, nil, targets, contexts, knowledge, audits, "")
	eng := New(g, orch, nil, applier, snapshots, audits, Config{TurnBudget: 5 * time.Second})

	return &fixture{
		engine: eng, sender: sender, contexts: contexts, snapshots: snapshots,
		audits: audits, gate: g, orch: orch, applier: applier,
	}
}

func TestOfferThenConfirmFlow(t *testing.T) {
	f := setupEngine(t, false)
	ctx := context.Background()

	// Turn 1: interest message selects the highest-priority automation and
	// arms the waiting slot.
	r1, err := f.engine.ProcessTurn(ctx, "lead-1", []string{"quero testar o robô"})
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if r1.GateHandled {
		t.Error("turn 1 gate-handled with nothing pending")
	}
	if r1.Stage != audit.StageSelection {
		t.Errorf("turn 1 stage = %q", r1.Stage)
	}
	if len(r1.Plan.Actions) != 1 || r1.Plan.Actions[0].AutomationID != "oferta_teste" {
		t.Fatalf("turn 1 plan = %+v", r1.Plan.Actions)
	}

	lc, err := f.contexts.Get(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Get context: %v", err)
	}
	if lc.Waiting == nil || lc.Waiting.Target != "confirm_can_deposit" {
		t.Fatalf("waiting slot not armed after turn 1: %+v", lc.Waiting)
	}
	if ttl := time.Until(lc.Waiting.ExpiresAt); ttl < 25*time.Minute || ttl > 31*time.Minute {
		t.Errorf("waiting TTL = %v", ttl)
	}

	// Turn 2: short confirmation resolves through the gate.
	r2, err := f.engine.ProcessTurn(ctx, "lead-1", []string{"sim"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !r2.GateHandled || r2.Stage != audit.StageGate {
		t.Fatalf("turn 2 result = %+v", r2)
	}

	snap, err := f.snapshots.Load(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Load snapshot: %v", err)
	}
	if !snap.Agreements["can_deposit"] {
		t.Error("confirmation did not set agreements.can_deposit")
	}
	lc, _ = f.contexts.Get(ctx, "lead-1")
	if lc.Waiting != nil {
		t.Errorf("waiting slot not cleared: %+v", lc.Waiting)
	}
}

func TestDeclineArmsFollowUpConfirmation(t *testing.T) {
	f := setupEngine(t, false)
	ctx := context.Background()

	if _, err := f.engine.ProcessTurn(ctx, "lead-1", []string{"quero testar o robô"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	// "não" fires the on-no follow-up automation, which itself expects a
	// reply: the new waiting slot must survive the resolution's clear.
	r, err := f.engine.ProcessTurn(ctx, "lead-1", []string{"não"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !r.GateHandled {
		t.Fatalf("turn 2 result = %+v", r)
	}

	lc, err := f.contexts.Get(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Get context: %v", err)
	}
	if lc.Waiting == nil || lc.Waiting.Target != "confirm_watch_demo" {
		t.Fatalf("follow-up confirmation not armed: %+v", lc.Waiting)
	}

	snap, err := f.snapshots.Load(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Load snapshot: %v", err)
	}
	if v, ok := snap.Agreements["can_deposit"]; !ok || v {
		t.Errorf("agreements.can_deposit = %v, %v", v, ok)
	}
}

func TestIntakeFanOutGatedByAnchors(t *testing.T) {
	f := setupEngine(t, false)
	provider := &countingProvider{content: `{"intent": "duvida", "automation": "", "confidence": 0.4}`}
	classifier := intake.NewClassifier(provider, "test-model", 3, time.Second)
	eng := New(f.gate, f.orch, classifier, f.applier, f.snapshots, f.audits, Config{TurnBudget: 5 * time.Second})
	ctx := context.Background()

	// No extractable signal: the turn spends no model samples.
	if _, err := eng.ProcessTurn(ctx, "lead-1", []string{"olá"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if n := provider.callCount(); n != 0 {
		t.Errorf("model sampled %d times for a signal-less message", n)
	}

	// A broker id plus an account anchor is worth the sampled vote.
	if _, err := eng.ProcessTurn(ctx, "lead-2", []string{"minha conta na corretora é 12345678"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if provider.callCount() == 0 {
		t.Error("model never sampled for a message with extraction signals")
	}
}

func TestPriorityTieBreak(t *testing.T) {
	f := setupEngine(t, false)

	r, err := f.engine.ProcessTurn(context.Background(), "lead-1", []string{"quero testar"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if got := r.Plan.Actions[0].AutomationID; got != "oferta_teste" {
		t.Errorf("selected %q, want the 0.9-priority entry", got)
	}
}

func TestKnowledgeBaseFallback(t *testing.T) {
	f := setupEngine(t, true)

	r, err := f.engine.ProcessTurn(context.Background(), "lead-2", []string{"qual o valor do depósito mínimo por PIX?"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if r.Stage != audit.StageKB {
		t.Fatalf("stage = %q, result = %+v", r.Stage, r)
	}
	if len(r.Plan.Actions) != 1 || !strings.Contains(r.Plan.Actions[0].Text, "R$ 50") {
		t.Errorf("plan = %+v", r.Plan.Actions)
	}

	lc, err := f.contexts.Get(context.Background(), "lead-2")
	if err != nil {
		t.Fatalf("Get context: %v", err)
	}
	if lc.LastKBTopic != "deposito" {
		t.Errorf("last kb topic = %q", lc.LastKBTopic)
	}
}

func TestGenericFallbackWhenEverythingEmpty(t *testing.T) {
	f := setupEngine(t, false)

	r, err := f.engine.ProcessTurn(context.Background(), "lead-3", []string{"olá"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if r.Stage != audit.StageFallback {
		t.Errorf("stage = %q", r.Stage)
	}
	if len(r.Plan.Actions) != 1 || r.Plan.Actions[0].Text != FallbackMessage {
		t.Errorf("plan = %+v", r.Plan.Actions)
	}
}

func TestBudgetExhaustionDegrades(t *testing.T) {
	f := setupEngine(t, false)
	f.engine.cfg.TurnBudget = time.Nanosecond

	r, err := f.engine.ProcessTurn(context.Background(), "lead-4", []string{"quero testar"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if r.Stage != audit.StageFallback {
		t.Errorf("stage = %q", r.Stage)
	}
	if texts := f.sender.texts(); len(texts) != 1 || texts[0] != FallbackMessage {
		t.Errorf("sent = %v", texts)
	}
}

func TestTurnAuditTrail(t *testing.T) {
	f := setupEngine(t, false)
	ctx := context.Background()

	if _, err := f.engine.ProcessTurn(ctx, "lead-1", []string{"quero testar"}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	entries, err := f.audits.Query(ctx, audit.QueryFilter{LeadID: "lead-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	stages := map[audit.Stage]bool{}
	for _, e := range entries {
		stages[e.Stage] = true
	}
	for _, want := range []audit.Stage{audit.StageGate, audit.StageSelection, audit.StageApply} {
		if !stages[want] {
			t.Errorf("missing %s stage in audit trail: %+v", want, entries)
		}
	}
}

func TestCoalescerBatchesPerLead(t *testing.T) {
	var mu sync.Mutex
	batches := map[string][][]string{}
	c := NewCoalescer(40*time.Millisecond, func(leadID string, texts []string) {
		mu.Lock()
		batches[leadID] = append(batches[leadID], texts)
		mu.Unlock()
	})

	c.Submit("lead-1", "primeira")
	c.Submit("lead-1", "segunda")
	c.Submit("lead-2", "outra conversa")

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches["lead-1"]) != 1 || len(batches["lead-1"][0]) != 2 {
		t.Errorf("lead-1 batches = %+v", batches["lead-1"])
	}
	if len(batches["lead-2"]) != 1 || batches["lead-2"][0][0] != "outra conversa" {
		t.Errorf("lead-2 batches = %+v", batches["lead-2"])
	}
}

func TestCoalescerImmediateMode(t *testing.T) {
	var got [][]string
	c := NewCoalescer(0, func(_ string, texts []string) {
		got = append(got, texts)
	})

	c.Submit("lead-1", "a")
	c.Submit("lead-1", "b")

	if len(got) != 2 {
		t.Errorf("flushes = %d, want 2", len(got))
	}
}

func TestCoalescerFlushAll(t *testing.T) {
	var mu sync.Mutex
	flushed := 0
	c := NewCoalescer(time.Hour, func(_ string, _ []string) {
		mu.Lock()
		flushed++
		mu.Unlock()
	})

	c.Submit("lead-1", "a")
	c.Submit("lead-2", "b")
	c.FlushAll()

	mu.Lock()
	defer mu.Unlock()
	if flushed != 2 {
		t.Errorf("flushed = %d, want 2", flushed)
	}
}
