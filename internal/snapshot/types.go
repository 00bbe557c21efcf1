package snapshot

import "time"

// Value markers treated as "unknown" rather than concrete facts.
const (
	StatusUnknown = "desconhecido"
	StatusNone    = "nenhum"
)

// Deposit status values used across policies.
const (
	DepositPending   = "pendente"
	DepositConfirmed = "confirmado"
)

// Snapshot is the consolidated fact state for one lead. It is mutated only
// through Merge; callers persist the result via the Store.
type Snapshot struct {
	LeadID         string             `json:"lead_id"`
	Accounts       map[string]string  `json:"accounts"`
	Deposit        map[string]string  `json:"deposit"`
	Agreements     map[string]bool    `json:"agreements"`
	Flags          map[string]bool    `json:"flags"`
	HistorySummary string             `json:"history_summary"`
	Verifications  []Verification     `json:"verifications"`
	Evidence       map[string]float64 `json:"evidence"` // fact path -> confidence of the evidence that set it
}

// Verification records an external check performed against a fact.
type Verification struct {
	Fact       string    `json:"fact"`
	CheckedBy  string    `json:"checked_by"`
	Confidence float64   `json:"confidence"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Fact is one piece of incoming evidence for a merge.
type Fact struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// PartialFacts maps dotted fact paths ("agreements.can_deposit",
// "deposit.status") to incoming evidence.
type PartialFacts map[string]Fact

// New returns an empty snapshot with the default fact groups.
func New(leadID string) *Snapshot {
	return &Snapshot{
		LeadID: leadID,
		Accounts: map[string]string{
			"quotex": StatusUnknown,
			"nyrion": StatusUnknown,
		},
		Deposit: map[string]string{
			"status": StatusNone,
		},
		Agreements: map[string]bool{},
		Flags:      map[string]bool{},
		Evidence:   map[string]float64{},
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		LeadID:         s.LeadID,
		Accounts:       make(map[string]string, len(s.Accounts)),
		Deposit:        make(map[string]string, len(s.Deposit)),
		Agreements:     make(map[string]bool, len(s.Agreements)),
		Flags:          make(map[string]bool, len(s.Flags)),
		HistorySummary: s.HistorySummary,
		Verifications:  make([]Verification, len(s.Verifications)),
		Evidence:       make(map[string]float64, len(s.Evidence)),
	}
	for k, v := range s.Accounts {
		c.Accounts[k] = v
	}
	for k, v := range s.Deposit {
		c.Deposit[k] = v
	}
	for k, v := range s.Agreements {
		c.Agreements[k] = v
	}
	for k, v := range s.Flags {
		c.Flags[k] = v
	}
	copy(c.Verifications, s.Verifications)
	for k, v := range s.Evidence {
		c.Evidence[k] = v
	}
	return c
}

// HasAccount reports whether any provider account is in a known state.
func (s *Snapshot) HasAccount() bool {
	for _, status := range s.Accounts {
		if isConcreteString(status) {
			return true
		}
	}
	return false
}

// Deposited reports whether the lead has a pending or confirmed deposit.
func (s *Snapshot) Deposited() bool {
	status := s.Deposit["status"]
	return status == DepositPending || status == DepositConfirmed
}

func isConcreteString(v string) bool {
	switch v {
	case "", StatusUnknown, "unknown":
		return false
	}
	return true
}
