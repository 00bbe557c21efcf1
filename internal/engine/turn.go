package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"leadgate/internal/audit"
	"leadgate/internal/gate"
	"leadgate/internal/intake"
	"leadgate/internal/leadctx"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
)

// Config carries the turn engine's tunables.
type Config struct {
	// TurnBudget bounds one turn's decide phase. Exceeding it degrades to
	// the generic safe message instead of hanging.
	TurnBudget time.Duration
	// CoalesceWindow batches near-simultaneous messages per lead into one
	// turn. Zero disables coalescing.
	CoalesceWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TurnBudget:     8 * time.Second,
		CoalesceWindow: 2 * time.Second,
	}
}

// TurnResult reports what one turn decided and applied.
type TurnResult struct {
	Plan  *plan.Plan
	Apply *plan.Result
	// Stage names the pipeline stage that produced the plan.
	Stage  audit.Stage
	Reason string
	// GateHandled is true when the confirmation gate short-circuited.
	GateHandled bool
}

// Engine drives the full turn pipeline under a per-lead lock: snapshot
// enrichment, confirmation gate, intake classification, orchestration and
// plan application.
type Engine struct {
	gate      *gate.Gate
	orch      *Orchestrator
	intake    *intake.Classifier
	applier   *plan.Applier
	snapshots *snapshot.Store
	audits    *audit.Store
	locks     *leadctx.Locks
	cfg       Config
}

// New builds an engine. classifier may be nil, disabling intake proposals.
// The gate must carry its own lock set: the engine holds the lead's turn
// lock for the whole decide-and-apply sequence.
func New(g *gate.Gate, orch *Orchestrator, classifier *intake.Classifier, applier *plan.Applier, snapshots *snapshot.Store, audits *audit.Store, cfg Config) *Engine {
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = DefaultConfig().TurnBudget
	}
	return &Engine{
		gate:      g,
		orch:      orch,
		intake:    classifier,
		applier:   applier,
		snapshots: snapshots,
		audits:    audits,
		locks:     leadctx.NewLocks(),
		cfg:       cfg,
	}
}

// ProcessTurn runs one coalesced turn for a lead. texts is the batched
// message window, oldest first; the newest message drives the decision and
// the rest is classifier context.
func (e *Engine) ProcessTurn(ctx context.Context, leadID string, texts []string) (*TurnResult, error) {
	if len(texts) == 0 {
		return nil, errors.New("empty turn")
	}

	e.locks.Lock(leadID)
	defer e.locks.Unlock(leadID)

	// Application must finish even when the decide budget runs out.
	applyCtx := context.WithoutCancel(ctx)
	decideCtx, cancel := context.WithTimeout(ctx, e.cfg.TurnBudget)
	defer cancel()

	message := texts[len(texts)-1]
	history := texts[:len(texts)-1]

	snap, cands, err := e.enrich(decideCtx, leadID, texts)
	if err != nil {
		if deadlineHit(decideCtx, err) {
			return e.degrade(applyCtx, leadID, "turn_budget_exceeded")
		}
		return nil, err
	}

	gr, err := e.gate.Process(decideCtx, leadID, message, history)
	if err != nil {
		if deadlineHit(decideCtx, err) {
			return e.degrade(applyCtx, leadID, "gate_budget_exceeded")
		}
		return nil, err
	}
	if gr.Handled {
		e.audits.Record(applyCtx, audit.Entry{
			LeadID: leadID, Stage: audit.StageGate, Outcome: audit.OutcomeResolved,
			Reason: gr.Reason,
			Detail: map[string]any{
				"target": gr.Target, "polarity": string(gr.Polarity),
				"confidence": gr.Confidence, "source": gr.Source, "retroactive": gr.Retroactive,
			},
		})
		p := plan.New(leadID, gr.Actions...)
		applied, err := e.apply(applyCtx, p)
		if err != nil {
			return nil, err
		}
		return &TurnResult{Plan: p, Apply: applied, Stage: audit.StageGate, Reason: gr.Reason, GateHandled: true}, nil
	}
	e.audits.Record(applyCtx, audit.Entry{
		LeadID: leadID, Stage: audit.StageGate, Outcome: audit.OutcomePassed,
		Reason: gr.Reason,
	})

	proposal := e.propose(decideCtx, message, snap, cands)

	d, err := e.orch.Decide(decideCtx, leadID, message, snap, proposal)
	if err != nil {
		if deadlineHit(decideCtx, err) {
			return e.degrade(applyCtx, leadID, "turn_budget_exceeded")
		}
		return nil, err
	}

	applied, err := e.apply(applyCtx, d.Plan)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Plan: d.Plan, Apply: applied, Stage: d.Stage, Reason: d.Reason}, nil
}

// enrich merges deterministically extracted candidates into the snapshot
// before any decision runs. The candidates also feed the anchor analysis
// that decides whether the turn is worth a model fan-out.
func (e *Engine) enrich(ctx context.Context, leadID string, texts []string) (*snapshot.Snapshot, snapshot.Candidates, error) {
	snap, err := e.snapshots.Load(ctx, leadID)
	if err != nil {
		return nil, snapshot.Candidates{}, err
	}

	cands := snapshot.ExtractCandidates(strings.Join(texts, "\n"))
	facts := cands.Facts()
	if len(facts) == 0 {
		return snap, cands, nil
	}

	snap = snapshot.Merge(snap, facts)
	if err := e.snapshots.Save(ctx, snap); err != nil {
		return nil, snapshot.Candidates{}, err
	}
	return snap, cands, nil
}

// propose runs the intake classification and returns a proposed automation
// id, or empty. The anchor analysis gates the fan-out: a message with no
// extractable signal goes straight to the cheaper stages. Classification
// failures never block the turn.
func (e *Engine) propose(ctx context.Context, message string, snap *snapshot.Snapshot, cands snapshot.Candidates) string {
	if e.intake == nil {
		return ""
	}
	if a := intake.Analyze(message, cands, snap); a.Strategy == intake.StrategyPassthrough {
		return ""
	}
	res, err := e.intake.Classify(ctx, message, snap)
	if err != nil {
		log.Printf("engine: intake classification failed: %v", err)
		return ""
	}
	if !res.Majority() || res.Automation == "" {
		return ""
	}
	return res.Automation
}

// degrade emits the generic safe message when the turn budget is exhausted.
func (e *Engine) degrade(ctx context.Context, leadID, reason string) (*TurnResult, error) {
	e.audits.Record(ctx, audit.Entry{
		LeadID: leadID, Stage: audit.StageFallback, Outcome: audit.OutcomeDegraded,
		Reason: reason,
	})
	p := plan.New(leadID, plan.Message(FallbackMessage))
	applied, err := e.apply(ctx, p)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Plan: p, Apply: applied, Stage: audit.StageFallback, Reason: reason}, nil
}

func (e *Engine) apply(ctx context.Context, p *plan.Plan) (*plan.Result, error) {
	applied, err := e.applier.Apply(ctx, p)
	if err != nil {
		e.audits.Record(ctx, audit.Entry{
			LeadID: p.LeadID, DecisionID: p.DecisionID,
			Stage: audit.StageApply, Outcome: audit.OutcomeError, Reason: err.Error(),
		})
		return nil, err
	}
	outcome := audit.OutcomeResolved
	reason := "applied"
	if applied.Replayed {
		reason = "replayed"
	}
	e.audits.Record(ctx, audit.Entry{
		LeadID: p.LeadID, DecisionID: p.DecisionID,
		Stage: audit.StageApply, Outcome: outcome, Reason: reason,
		Detail: map[string]any{"actions": applied.ActionsExecuted},
	})
	return applied, nil
}

func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
