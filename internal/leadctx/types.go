// Package leadctx manages the volatile per-lead conversation state: the
// active procedure, the single waiting-confirmation slot, the expects-reply
// timeline and the automation cooldown ledger.
package leadctx

import "time"

// Context is the per-lead volatile state carried between turns.
type Context struct {
	LeadID          string   `json:"lead_id"`
	ActiveProcedure string   `json:"active_procedure"`
	ActiveStep      string   `json:"active_step"`
	Waiting         *Waiting `json:"waiting,omitempty"`
	LastAutomation  string   `json:"last_automation"`
	LastKBTopic     string   `json:"last_kb_topic"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Waiting is the single pending-confirmation slot. At most one exists per
// lead; it is cleared on resolution or expiry.
type Waiting struct {
	Target       string    `json:"target"`
	AutomationID string    `json:"automation_id"`
	PromptText   string    `json:"prompt_text"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the slot's TTL has elapsed.
func (w *Waiting) Expired(now time.Time) bool {
	return now.After(w.ExpiresAt)
}

// TimelineEntry is one expects-reply registration in the append-only
// recovery log. The timeline is written independently of the waiting slot so
// the gate can recover retroactively when the primary write was lost.
type TimelineEntry struct {
	ID           string    `json:"id"`
	LeadID       string    `json:"lead_id"`
	AutomationID string    `json:"automation_id"`
	Target       string    `json:"target"`
	PromptText   string    `json:"prompt_text"`
	Consumed     bool      `json:"consumed"`
	CreatedAt    time.Time `json:"created_at"`
}
