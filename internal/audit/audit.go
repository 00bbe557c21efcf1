// Package audit records one structured event per decision stage, so every
// emitted (or suppressed) action can be traced back to the stage and reason
// that produced it.
package audit

import "time"

// Stage identifies the decision stage that produced an event.
type Stage string

const (
	StageGate      Stage = "gate"
	StageProcedure Stage = "procedure"
	StageSelection Stage = "selection"
	StageProposal  Stage = "proposal"
	StageKB        Stage = "kb"
	StageFallback  Stage = "fallback"
	StageApply     Stage = "apply"
)

// Outcome is what the stage did with the turn.
type Outcome string

const (
	// OutcomeResolved means the stage short-circuited the turn.
	OutcomeResolved Outcome = "resolved"
	// OutcomePassed means the stage had nothing to do and the turn moved on.
	OutcomePassed Outcome = "passed"
	// OutcomeSelected means the stage picked an automation.
	OutcomeSelected Outcome = "selected"
	// OutcomeRejected means a guardrail suppressed an otherwise-eligible action.
	OutcomeRejected Outcome = "rejected"
	// OutcomeAnswered means the stage produced a message.
	OutcomeAnswered Outcome = "answered"
	// OutcomeDegraded means the stage fell back to the generic safe message.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeError means the stage failed; the turn still degraded safely.
	OutcomeError Outcome = "error"
)

// Entry is one recorded decision-stage event.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	LeadID     string         `json:"lead_id"`
	DecisionID string         `json:"decision_id"`
	Stage      Stage          `json:"stage"`
	Outcome    Outcome        `json:"outcome"`
	Reason     string         `json:"reason"`
	Detail     map[string]any `json:"detail,omitempty"`
}
