package plan

import (
	"fmt"

	"github.com/google/uuid"

	"leadgate/internal/catalog"
)

// NewDecisionID generates the idempotency key for one decision.
func NewDecisionID() string {
	return fmt.Sprintf("dec_%s", uuid.New().String()[:12])
}

// New builds a normalized plan from raw actions.
func New(leadID string, actions ...Action) *Plan {
	p := &Plan{
		DecisionID: NewDecisionID(),
		LeadID:     leadID,
		Actions:    make([]Action, 0, len(actions)),
	}
	for _, a := range actions {
		p.Actions = append(p.Actions, Normalize(a))
	}
	return p
}

// FromAutomation renders a catalog automation into a run_automation action.
func FromAutomation(a *catalog.Automation) Action {
	return Normalize(Action{
		Type:         ActionRunAutomation,
		Text:         a.Output.Text,
		Buttons:      a.Output.Buttons,
		Media:        a.Output.Media,
		AutomationID: a.ID,
	})
}

// Message builds a plain send_message action.
func Message(text string) Action {
	return Normalize(Action{Type: ActionSendMessage, Text: text})
}

// Normalize enforces the wire invariants: text is never null, button and
// media lists are never null, and invalid buttons are dropped rather than
// propagated.
func Normalize(a Action) Action {
	if a.Buttons == nil {
		a.Buttons = []catalog.Button{}
	}
	if a.Media == nil {
		a.Media = []catalog.Media{}
	}

	kept := make([]catalog.Button, 0, len(a.Buttons))
	for _, b := range a.Buttons {
		if validButton(b) {
			kept = append(kept, b)
		}
	}
	a.Buttons = kept

	if a.FactConfidence == 0 && len(a.SetFacts) > 0 {
		a.FactConfidence = ConfirmedFactConfidence
	}
	return a
}

func validButton(b catalog.Button) bool {
	if b.Label == "" {
		return false
	}
	switch b.Kind {
	case catalog.ButtonKindURL:
		return b.URL != ""
	case catalog.ButtonKindCallback, catalog.ButtonKindQuickReply:
		return true
	}
	return false
}
