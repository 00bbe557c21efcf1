package gate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"leadgate/internal/catalog"
	"leadgate/internal/db"
	"leadgate/internal/leadctx"
	"leadgate/internal/llm"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
)

// Mode selects how the gate combines the LLM classifier with the
// deterministic fallback.
type Mode string

const (
	// ModeLLMFirst tries the LLM, then falls back to phrase tables.
	ModeLLMFirst Mode = "llm_first"
	// ModeHybrid behaves like ModeLLMFirst today; kept as a distinct knob
	// so deployments can diverge without a config migration.
	ModeHybrid Mode = "hybrid"
	// ModeDetOnly never calls the LLM.
	ModeDetOnly Mode = "det_only"
)

// Config carries the gate's tunables.
type Config struct {
	Mode Mode
	// Model used by the LLM classifier.
	Model string
	// Timeout bounds a single classifier call.
	Timeout time.Duration
	// LLMThreshold is the minimum classifier confidence to apply effects.
	LLMThreshold float64
	// DetThreshold is the minimum phrase-table confidence to apply effects.
	DetThreshold float64
	// RetroWindow bounds retroactive timeline recovery, independent of the
	// original target TTL.
	RetroWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeLLMFirst,
		Timeout:      2500 * time.Millisecond,
		LLMThreshold: 0.80,
		DetThreshold: 0.70,
		RetroWindow:  60 * time.Minute,
	}
}

// Result reports one gate evaluation. Handled=false is the common case and
// means the turn proceeds to normal orchestration.
type Result struct {
	Handled     bool
	Actions     []plan.Action
	Target      string
	Polarity    Polarity
	Confidence  float64
	Source      string
	Reason      string
	Retroactive bool
}

// pending is one recoverable confirmation: either the live waiting slot or a
// retroactive timeline entry.
type pending struct {
	target      string
	promptText  string
	timelineID  string
	retroactive bool
}

// Gate resolves inbound messages against pending confirmations.
type Gate struct {
	database  *db.DB
	targets   *Targets
	contexts  *leadctx.Store
	snapshots *snapshot.Store
	catalog   *catalog.Catalog
	provider  llm.Provider
	locks     *leadctx.Locks
	cfg       Config
}

// New builds a gate. provider may be nil, forcing deterministic-only
// classification regardless of cfg.Mode.
func New(database *db.DB, targets *Targets, contexts *leadctx.Store, snapshots *snapshot.Store, cat *catalog.Catalog, provider llm.Provider, locks *leadctx.Locks, cfg Config) *Gate {
	return &Gate{
		database:  database,
		targets:   targets,
		contexts:  contexts,
		snapshots: snapshots,
		catalog:   cat,
		provider:  provider,
		locks:     locks,
		cfg:       cfg,
	}
}

// Process evaluates one inbound message against the lead's pending
// confirmation, if any. history is the recent message window, oldest first,
// and is only used as LLM context.
func (g *Gate) Process(ctx context.Context, leadID, message string, history []string) (*Result, error) {
	if !g.locks.TryLock(leadID) {
		return &Result{Reason: "lead_locked"}, nil
	}
	defer g.locks.Unlock(leadID)

	p, err := g.findPending(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &Result{Reason: "no_pending_confirmation"}, nil
	}
	if normalizeMessage(message) == "" {
		return &Result{Reason: "empty_message", Retroactive: p.retroactive}, nil
	}

	key := idempotencyKey(leadID, message, p.target)
	seen, err := g.alreadyConfirmed(ctx, key)
	if err != nil {
		return nil, err
	}
	if seen {
		return &Result{Reason: "idempotent_skip", Target: p.target, Retroactive: p.retroactive}, nil
	}

	c, ok := g.classify(ctx, leadID, message, history, p)
	if !ok {
		return &Result{Reason: "no_match", Target: p.target, Retroactive: p.retroactive}, nil
	}

	return g.resolve(ctx, leadID, key, p, c)
}

// findPending prefers the live waiting slot; when it is absent the timeline
// is consulted for a recent unconsumed expects-reply registration. The two
// stores are written independently, so either may exist without the other.
func (g *Gate) findPending(ctx context.Context, leadID string) (*pending, error) {
	lc, err := g.contexts.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lc.Waiting != nil {
		if g.targets.Known(lc.Waiting.Target) {
			return &pending{target: lc.Waiting.Target, promptText: lc.Waiting.PromptText}, nil
		}
		log.Printf("gate: lead %s waiting on unlisted target %q, ignoring slot", leadID, lc.Waiting.Target)
	}

	entry, err := g.contexts.LatestTimelineEntry(ctx, leadID, g.cfg.RetroWindow)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if !g.targets.Known(entry.Target) {
		log.Printf("gate: lead %s timeline entry on unlisted target %q, ignoring", leadID, entry.Target)
		return nil, nil
	}
	return &pending{
		target:      entry.Target,
		promptText:  entry.PromptText,
		timelineID:  entry.ID,
		retroactive: true,
	}, nil
}

// classify runs the short-reply tables, then the LLM, then the phrase-table
// fallback, honoring the configured mode and thresholds.
func (g *Gate) classify(ctx context.Context, leadID, message string, history []string, p *pending) (classification, bool) {
	if isShortResponse(message) {
		if c, ok := classifyShort(message); ok {
			return c, true
		}
	}

	if g.cfg.Mode != ModeDetOnly && g.provider != nil {
		llmCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		c, err := g.tryLLM(llmCtx, leadID, message, history, p)
		cancel()
		switch {
		case err != nil:
			log.Printf("gate: llm classification failed for lead %s: %v", leadID, err)
		case c.Polarity == PolarityUnknown:
			// No confirmation in this message per the model.
		case c.Confidence >= g.cfg.LLMThreshold:
			return c, true
		default:
			log.Printf("gate: llm confidence %.2f below threshold %.2f for lead %s", c.Confidence, g.cfg.LLMThreshold, leadID)
			return classification{}, false
		}
	}

	if c, ok := classifyPhrases(message); ok && c.Confidence >= g.cfg.DetThreshold {
		return c, true
	}
	return classification{}, false
}

func (g *Gate) tryLLM(ctx context.Context, leadID, message string, history []string, p *pending) (classification, error) {
	snap, err := g.snapshots.Load(ctx, leadID)
	if err != nil {
		return classification{}, err
	}
	return classifyLLM(ctx, g.provider, g.cfg.Model, message, p.promptText, history, snap)
}

// resolve applies a classification: build the effect actions, record the
// confirmation for idempotency and consume the timeline entry when the
// recovery path was used.
func (g *Gate) resolve(ctx context.Context, leadID, key string, p *pending, c classification) (*Result, error) {
	target := g.targets.Get(p.target)
	if target == nil {
		return &Result{Reason: "target_not_whitelisted", Retroactive: p.retroactive}, nil
	}

	actions := g.effectActions(target, c.Polarity)

	if err := g.recordConfirmation(ctx, key, leadID, p.target, c); err != nil {
		return nil, err
	}
	if p.timelineID != "" {
		if err := g.contexts.ConsumeTimeline(ctx, p.timelineID); err != nil {
			return nil, err
		}
	}

	return &Result{
		Handled:     true,
		Actions:     actions,
		Target:      p.target,
		Polarity:    c.Polarity,
		Confidence:  c.Confidence,
		Source:      c.Source,
		Reason:      c.Reason,
		Retroactive: p.retroactive,
	}, nil
}

// effectActions renders the target's configured effect for the polarity.
// "other" clears the slot without touching facts: the lead answered, just
// not with yes or no. clear-waiting goes first: a follow-up automation may
// itself expect a reply, and the applier arms that slot as it executes the
// run-automation action.
func (g *Gate) effectActions(target *Target, polarity Polarity) []plan.Action {
	var effect *Effect
	switch polarity {
	case PolarityYes:
		effect = target.OnYes
	case PolarityNo:
		effect = target.OnNo
	}

	actions := []plan.Action{plan.Normalize(plan.Action{Type: plan.ActionClearWaiting})}
	if effect != nil {
		if len(effect.Facts) > 0 {
			actions = append(actions, plan.Normalize(plan.Action{
				Type:           plan.ActionSetFacts,
				SetFacts:       effect.Facts,
				FactConfidence: plan.ConfirmedFactConfidence,
			}))
		}
		if effect.Automation != "" {
			if auto := g.catalog.Get(effect.Automation); auto != nil {
				actions = append(actions, plan.FromAutomation(auto))
			}
		}
		if effect.Message != "" {
			actions = append(actions, plan.Message(effect.Message))
		}
	}
	return actions
}

// idempotencyKey dedupes repeated deliveries of the same reply: a hash of
// the lead, the normalized text and the target being answered.
func idempotencyKey(leadID, message, target string) string {
	sum := sha256.Sum256([]byte(leadID + "|" + normalizeMessage(message) + "|" + target))
	return fmt.Sprintf("%x", sum)
}

func (g *Gate) alreadyConfirmed(ctx context.Context, key string) (bool, error) {
	var one int
	err := g.database.QueryRowContext(ctx, `SELECT 1 FROM confirmations WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking confirmation idempotency: %w", err)
	}
	return true, nil
}

func (g *Gate) recordConfirmation(ctx context.Context, key, leadID, target string, c classification) error {
	_, err := g.database.ExecContext(ctx, `
		INSERT INTO confirmations (key, lead_id, target, polarity, confidence, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key, leadID, target, string(c.Polarity), c.Confidence, c.Source)
	if err != nil {
		return fmt.Errorf("recording confirmation: %w", err)
	}
	return nil
}
