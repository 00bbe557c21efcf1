// Package engine runs the per-turn decision pipeline: gate first, then
// procedure, catalog selection, guarded proposal acceptance and the
// knowledge-base fallback, ending in a single normalized plan.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadgate/internal/audit"
	"leadgate/internal/catalog"
	"leadgate/internal/gate"
	"leadgate/internal/kb"
	"leadgate/internal/leadctx"
	"leadgate/internal/plan"
	"leadgate/internal/procedure"
	"leadgate/internal/snapshot"
)

// FallbackMessage is the generic safe reply when every stage comes up empty.
const FallbackMessage = "Não entendi bem sua mensagem. Pode me explicar melhor?"

// Decision is the orchestrator's verdict for one turn.
type Decision struct {
	Plan *plan.Plan
	// Stage names the pipeline stage that produced the plan.
	Stage audit.Stage
	// Reason is a short machine-readable cause (automation id, rejection
	// cause, kb topic).
	Reason string
}

// Orchestrator decides a turn when the confirmation gate does not
// short-circuit. It never calls external services except through the KB
// collaborator at the last content stage.
type Orchestrator struct {
	catalog    *catalog.Catalog
	procedures *procedure.Set
	targets    *gate.Targets
	contexts   *leadctx.Store
	knowledge  *kb.KB
	audits     *audit.Store
	// defaultProcedure is entered when the snapshot shows test interest and
	// no procedure is active yet.
	defaultProcedure string
}

// NewOrchestrator wires the decision stages. knowledge may be nil; the KB
// stage is then skipped.
func NewOrchestrator(cat *catalog.Catalog, procs *procedure.Set, targets *gate.Targets, contexts *leadctx.Store, knowledge *kb.KB, audits *audit.Store, defaultProcedure string) *Orchestrator {
	return &Orchestrator{
		catalog:          cat,
		procedures:       procs,
		targets:          targets,
		contexts:         contexts,
		knowledge:        knowledge,
		audits:           audits,
		defaultProcedure: defaultProcedure,
	}
}

// Decide walks the stages in order and returns exactly one plan. proposal is
// an optional automation id suggested by the intake classification; it is
// accepted only under the same guardrails as catalog selection.
func (o *Orchestrator) Decide(ctx context.Context, leadID, message string, snap *snapshot.Snapshot, proposal string) (*Decision, error) {
	lc, err := o.contexts.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lastSent, err := o.contexts.LastSent(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if d, err := o.tryProcedure(ctx, leadID, snap, lc); d != nil || err != nil {
		return d, err
	}
	if d := o.trySelection(ctx, leadID, snap, lastSent); d != nil {
		return d, nil
	}
	if d := o.tryProposal(ctx, leadID, snap, lastSent, proposal); d != nil {
		return d, nil
	}
	if d := o.tryKnowledgeBase(ctx, leadID, message, lc); d != nil {
		return d, nil
	}

	o.audits.Record(ctx, audit.Entry{
		LeadID: leadID, Stage: audit.StageFallback, Outcome: audit.OutcomeDegraded,
		Reason: "all_stages_empty",
	})
	return &Decision{
		Plan:   plan.New(leadID, plan.Message(FallbackMessage)),
		Stage:  audit.StageFallback,
		Reason: "all_stages_empty",
	}, nil
}

// tryProcedure runs the active procedure, entering the default one when the
// snapshot shows test interest. Procedure progress is purely a function of
// accumulated facts, so re-running from the first step is safe.
func (o *Orchestrator) tryProcedure(ctx context.Context, leadID string, snap *snapshot.Snapshot, lc *leadctx.Context) (*Decision, error) {
	procID := lc.ActiveProcedure
	if procID == "" && o.defaultProcedure != "" && snap.Agreements["wants_test"] {
		procID = o.defaultProcedure
	}
	if procID == "" || o.procedures == nil || o.procedures.Get(procID) == nil {
		return nil, nil
	}

	out, err := o.procedures.Run(procID, snap)
	if err != nil {
		return nil, fmt.Errorf("running procedure %s: %w", procID, err)
	}

	lc.ActiveProcedure = procID
	lc.ActiveStep = out.StepName
	if out.Complete {
		lc.ActiveProcedure = ""
		lc.ActiveStep = ""
	}
	if err := o.contexts.Save(ctx, lc); err != nil {
		return nil, err
	}

	if out.Automation == "" {
		// Complete with no final action: nothing to say from this stage.
		o.audits.Record(ctx, audit.Entry{
			LeadID: leadID, Stage: audit.StageProcedure, Outcome: audit.OutcomePassed,
			Reason: procID, Detail: map[string]any{"step": out.StepName, "complete": out.Complete},
		})
		return nil, nil
	}

	auto := o.catalog.Get(out.Automation)
	if auto == nil {
		return nil, fmt.Errorf("procedure %s references unknown automation %q", procID, out.Automation)
	}
	o.audits.Record(ctx, audit.Entry{
		LeadID: leadID, Stage: audit.StageProcedure, Outcome: audit.OutcomeSelected,
		Reason: out.Automation, Detail: map[string]any{"procedure": procID, "step": out.StepName, "complete": out.Complete},
	})
	return &Decision{
		Plan:   plan.New(leadID, plan.FromAutomation(auto)),
		Stage:  audit.StageProcedure,
		Reason: out.Automation,
	}, nil
}

func (o *Orchestrator) trySelection(ctx context.Context, leadID string, snap *snapshot.Snapshot, lastSent map[string]time.Time) *Decision {
	auto := o.catalog.Select(catalog.SelectInput{Snapshot: snap, LastSent: lastSent, Now: time.Now()})
	if auto == nil {
		o.audits.Record(ctx, audit.Entry{
			LeadID: leadID, Stage: audit.StageSelection, Outcome: audit.OutcomePassed,
			Reason: "none_eligible",
		})
		return nil
	}
	o.audits.Record(ctx, audit.Entry{
		LeadID: leadID, Stage: audit.StageSelection, Outcome: audit.OutcomeSelected,
		Reason: auto.ID, Detail: map[string]any{"priority": auto.Priority},
	})
	return &Decision{
		Plan:   plan.New(leadID, plan.FromAutomation(auto)),
		Stage:  audit.StageSelection,
		Reason: auto.ID,
	}
}

// tryProposal accepts an intake-proposed automation only when it would have
// passed selection anyway: catalog membership, eligibility, cooldown, and no
// conflict with facts already settled in the snapshot. Rejections fall
// through silently to the next stage.
func (o *Orchestrator) tryProposal(ctx context.Context, leadID string, snap *snapshot.Snapshot, lastSent map[string]time.Time, proposal string) *Decision {
	if proposal == "" {
		return nil
	}
	reject := func(reason string) *Decision {
		o.audits.Record(ctx, audit.Entry{
			LeadID: leadID, Stage: audit.StageProposal, Outcome: audit.OutcomeRejected,
			Reason: reason, Detail: map[string]any{"automation": proposal},
		})
		return nil
	}

	auto := o.catalog.Get(proposal)
	if auto == nil {
		return reject("unknown_automation")
	}
	if !o.catalog.Eligible(proposal, snap) {
		return reject("not_eligible")
	}
	if !o.catalog.CooldownElapsed(proposal, lastSent, time.Now()) {
		return reject("cooldown_active")
	}
	if o.conflictsWithFacts(auto, snap) {
		return reject("fact_conflict")
	}

	o.audits.Record(ctx, audit.Entry{
		LeadID: leadID, Stage: audit.StageProposal, Outcome: audit.OutcomeSelected,
		Reason: proposal,
	})
	return &Decision{
		Plan:   plan.New(leadID, plan.FromAutomation(auto)),
		Stage:  audit.StageProposal,
		Reason: proposal,
	}
}

// conflictsWithFacts rejects asking a question the snapshot already answers:
// if the automation expects a reply whose on-yes facts are all settled,
// sending it again would contradict known state.
func (o *Orchestrator) conflictsWithFacts(auto *catalog.Automation, snap *snapshot.Snapshot) bool {
	if auto.ExpectsReply == nil || o.targets == nil {
		return false
	}
	target := o.targets.Get(auto.ExpectsReply.Target)
	if target == nil || target.OnYes == nil || len(target.OnYes.Facts) == 0 {
		return false
	}
	for path, want := range target.OnYes.Facts {
		if !snapshot.FactSettled(snap, path, want) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) tryKnowledgeBase(ctx context.Context, leadID, message string, lc *leadctx.Context) *Decision {
	if o.knowledge == nil || message == "" {
		return nil
	}
	answer, err := o.knowledge.Respond(ctx, message)
	if err != nil {
		if !errors.Is(err, kb.ErrNoAnswer) {
			o.audits.Record(ctx, audit.Entry{
				LeadID: leadID, Stage: audit.StageKB, Outcome: audit.OutcomeError,
				Reason: err.Error(),
			})
		}
		return nil
	}

	lc.LastKBTopic = answer.Topic
	if err := o.contexts.Save(ctx, lc); err != nil {
		o.audits.Record(ctx, audit.Entry{
			LeadID: leadID, Stage: audit.StageKB, Outcome: audit.OutcomeError,
			Reason: err.Error(),
		})
	}

	o.audits.Record(ctx, audit.Entry{
		LeadID: leadID, Stage: audit.StageKB, Outcome: audit.OutcomeAnswered,
		Reason: answer.Topic, Detail: map[string]any{"synthesized": answer.Synthesized},
	})
	return &Decision{
		Plan:   plan.New(leadID, plan.Message(answer.Text)),
		Stage:  audit.StageKB,
		Reason: answer.Topic,
	}
}
