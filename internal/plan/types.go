// Package plan renders decisions into normalized, replay-safe action
// batches and applies them idempotently.
package plan

import "leadgate/internal/catalog"

// ActionType enumerates the action kinds a plan may carry.
type ActionType string

const (
	ActionSendMessage   ActionType = "send_message"
	ActionSetFacts      ActionType = "set_facts"
	ActionClearWaiting  ActionType = "clear_waiting"
	ActionRunAutomation ActionType = "run_automation"
)

// Action is one self-contained, replay-safe step of a plan.
type Action struct {
	Type           ActionType       `json:"type"`
	Text           string           `json:"text"`
	Buttons        []catalog.Button `json:"buttons"`
	Media          []catalog.Media  `json:"media"`
	SetFacts       map[string]any   `json:"set_facts,omitempty"`
	FactConfidence float64          `json:"fact_confidence,omitempty"`
	AutomationID   string           `json:"automation_id,omitempty"`
}

// Plan is an ordered action batch with an idempotency key.
type Plan struct {
	DecisionID string         `json:"decision_id"`
	LeadID     string         `json:"lead_id"`
	Actions    []Action       `json:"actions"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Confidence assigned to facts set by an explicit user confirmation.
const ConfirmedFactConfidence = 0.9
