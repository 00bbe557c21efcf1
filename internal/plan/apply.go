package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"leadgate/internal/catalog"
	"leadgate/internal/db"
	"leadgate/internal/leadctx"
	"leadgate/internal/snapshot"
)

// Sender delivers a message action to the outbound channel collaborator.
// Delivery itself is outside the engine; this is the seam it hands off at.
type Sender interface {
	Send(ctx context.Context, leadID string, action Action) error
}

// Result reports what an Apply call did.
type Result struct {
	DecisionID      string `json:"decision_id"`
	Applied         bool   `json:"applied"`
	Replayed        bool   `json:"replayed"`
	ActionsExecuted int    `json:"actions_executed"`
}

// Applier executes plans exactly once per decision id.
type Applier struct {
	db        *db.DB
	snapshots *snapshot.Store
	contexts  *leadctx.Store
	catalog   *catalog.Catalog
	targets   TargetTTL
	sender    Sender
}

// TargetTTL resolves a confirmation target id to its waiting-slot TTL.
// The gate package owns the target definitions; the applier only needs
// the TTL to arm the slot.
type TargetTTL func(target string) (time.Duration, bool)

// NewApplier wires an applier.
func NewApplier(database *db.DB, snapshots *snapshot.Store, contexts *leadctx.Store, cat *catalog.Catalog, targets TargetTTL, sender Sender) *Applier {
	return &Applier{
		db:        database,
		snapshots: snapshots,
		contexts:  contexts,
		catalog:   cat,
		targets:   targets,
		sender:    sender,
	}
}

// Apply executes a plan. A decision id maps to exactly one applied plan:
// re-submission returns the recorded result without re-running side effects.
func (ap *Applier) Apply(ctx context.Context, p *Plan) (*Result, error) {
	if prev, err := ap.recordedResult(ctx, p.DecisionID); err != nil {
		return nil, err
	} else if prev != nil {
		prev.Replayed = true
		return prev, nil
	}

	result := &Result{DecisionID: p.DecisionID, Applied: true}
	for _, action := range p.Actions {
		if err := ap.execute(ctx, p.LeadID, action); err != nil {
			return nil, fmt.Errorf("applying %s: %w", action.Type, err)
		}
		result.ActionsExecuted++
	}

	if err := ap.record(ctx, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (ap *Applier) execute(ctx context.Context, leadID string, action Action) error {
	switch action.Type {
	case ActionSendMessage:
		return ap.sender.Send(ctx, leadID, action)

	case ActionRunAutomation:
		if err := ap.sender.Send(ctx, leadID, action); err != nil {
			return err
		}
		if err := ap.contexts.RecordSend(ctx, leadID, action.AutomationID, time.Now()); err != nil {
			return err
		}
		return ap.armExpectsReply(ctx, leadID, action)

	case ActionSetFacts:
		snap, err := ap.snapshots.Load(ctx, leadID)
		if err != nil {
			return err
		}
		facts := snapshot.PartialFacts{}
		for path, value := range action.SetFacts {
			facts[path] = snapshot.Fact{Value: value, Confidence: action.FactConfidence, Source: "confirmation"}
		}
		return ap.snapshots.Save(ctx, snapshot.Merge(snap, facts))

	case ActionClearWaiting:
		return ap.contexts.ClearWaiting(ctx, leadID)
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

// armExpectsReply sets the waiting slot and appends the timeline entry after
// an expects-reply automation went out. The two writes are independent on
// purpose: the timeline is the recovery log for a lost slot write.
func (ap *Applier) armExpectsReply(ctx context.Context, leadID string, action Action) error {
	auto := ap.catalog.Get(action.AutomationID)
	if auto == nil || auto.ExpectsReply == nil {
		return nil
	}
	target := auto.ExpectsReply.Target
	ttl, ok := ap.targets(target)
	if !ok {
		return fmt.Errorf("automation %q expects reply for unknown target %q", auto.ID, target)
	}

	now := time.Now()
	if err := ap.contexts.SetWaiting(ctx, leadID, leadctx.Waiting{
		Target:       target,
		AutomationID: auto.ID,
		PromptText:   auto.Output.Text,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	return ap.contexts.AppendTimeline(ctx, leadctx.TimelineEntry{
		LeadID:       leadID,
		AutomationID: auto.ID,
		Target:       target,
		PromptText:   auto.Output.Text,
	})
}

func (ap *Applier) recordedResult(ctx context.Context, decisionID string) (*Result, error) {
	var resultJSON string
	err := ap.db.QueryRowContext(ctx,
		`SELECT result FROM applied_decisions WHERE decision_id = ?`, decisionID,
	).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking applied decision: %w", err)
	}

	var r Result
	if err := json.Unmarshal([]byte(resultJSON), &r); err != nil {
		return nil, fmt.Errorf("decoding applied decision: %w", err)
	}
	return &r, nil
}

func (ap *Applier) record(ctx context.Context, p *Plan, r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding apply result: %w", err)
	}
	_, err = ap.db.ExecContext(ctx,
		`INSERT INTO applied_decisions (decision_id, lead_id, result) VALUES (?, ?, ?)`,
		p.DecisionID, p.LeadID, string(data),
	)
	if err != nil {
		return fmt.Errorf("recording applied decision: %w", err)
	}
	return nil
}
