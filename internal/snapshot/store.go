package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"leadgate/internal/db"
)

// Store persists snapshots per lead.
type Store struct {
	db *db.DB
}

// NewStore creates a new snapshot store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

type factGroups struct {
	Accounts   map[string]string  `json:"accounts"`
	Deposit    map[string]string  `json:"deposit"`
	Agreements map[string]bool    `json:"agreements"`
	Flags      map[string]bool    `json:"flags"`
	Evidence   map[string]float64 `json:"evidence"`
}

// Load returns the lead's snapshot, or a fresh default when none exists yet.
func (s *Store) Load(ctx context.Context, leadID string) (*Snapshot, error) {
	var factsJSON, verificationsJSON, history string
	err := s.db.QueryRowContext(ctx,
		`SELECT facts, history_summary, verifications FROM snapshots WHERE lead_id = ?`,
		leadID,
	).Scan(&factsJSON, &history, &verificationsJSON)

	if err == sql.ErrNoRows {
		return New(leadID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	var groups factGroups
	if err := json.Unmarshal([]byte(factsJSON), &groups); err != nil {
		return nil, fmt.Errorf("decoding snapshot facts: %w", err)
	}

	snap := New(leadID)
	if groups.Accounts != nil {
		snap.Accounts = groups.Accounts
	}
	if groups.Deposit != nil {
		snap.Deposit = groups.Deposit
	}
	if groups.Agreements != nil {
		snap.Agreements = groups.Agreements
	}
	if groups.Flags != nil {
		snap.Flags = groups.Flags
	}
	if groups.Evidence != nil {
		snap.Evidence = groups.Evidence
	}
	snap.HistorySummary = history

	if err := json.Unmarshal([]byte(verificationsJSON), &snap.Verifications); err != nil {
		return nil, fmt.Errorf("decoding verifications: %w", err)
	}

	return snap, nil
}

// Save upserts the lead's snapshot.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	factsJSON, err := json.Marshal(factGroups{
		Accounts:   snap.Accounts,
		Deposit:    snap.Deposit,
		Agreements: snap.Agreements,
		Flags:      snap.Flags,
		Evidence:   snap.Evidence,
	})
	if err != nil {
		return fmt.Errorf("encoding snapshot facts: %w", err)
	}

	verifications := snap.Verifications
	if verifications == nil {
		verifications = []Verification{}
	}
	verificationsJSON, err := json.Marshal(verifications)
	if err != nil {
		return fmt.Errorf("encoding verifications: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (lead_id, facts, history_summary, verifications, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(lead_id) DO UPDATE SET
		   facts = excluded.facts,
		   history_summary = excluded.history_summary,
		   verifications = excluded.verifications,
		   updated_at = excluded.updated_at`,
		snap.LeadID, string(factsJSON), snap.HistorySummary, string(verificationsJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}
