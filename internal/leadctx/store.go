package leadctx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadgate/internal/db"
)

// Store persists lead contexts, the expects-reply timeline and the cooldown
// ledger.
type Store struct {
	db *db.DB
}

// NewStore creates a new lead context store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Get returns the lead's context, creating an empty one lazily. An expired
// waiting slot is cleared on read.
func (s *Store) Get(ctx context.Context, leadID string) (*Context, error) {
	var (
		c           Context
		waitingJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT lead_id, active_procedure, active_step, waiting, last_automation, last_kb_topic, updated_at
		 FROM lead_contexts WHERE lead_id = ?`, leadID,
	).Scan(&c.LeadID, &c.ActiveProcedure, &c.ActiveStep, &waitingJSON, &c.LastAutomation, &c.LastKBTopic, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Context{LeadID: leadID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading lead context: %w", err)
	}

	if waitingJSON.Valid && waitingJSON.String != "" {
		var w Waiting
		if err := json.Unmarshal([]byte(waitingJSON.String), &w); err != nil {
			return nil, fmt.Errorf("decoding waiting slot: %w", err)
		}
		if w.Expired(time.Now()) {
			if err := s.ClearWaiting(ctx, leadID); err != nil {
				return nil, err
			}
		} else {
			c.Waiting = &w
		}
	}

	return &c, nil
}

// Save upserts the full context.
func (s *Store) Save(ctx context.Context, c *Context) error {
	var waitingJSON any
	if c.Waiting != nil {
		data, err := json.Marshal(c.Waiting)
		if err != nil {
			return fmt.Errorf("encoding waiting slot: %w", err)
		}
		waitingJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_contexts (lead_id, active_procedure, active_step, waiting, last_automation, last_kb_topic, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(lead_id) DO UPDATE SET
		   active_procedure = excluded.active_procedure,
		   active_step = excluded.active_step,
		   waiting = excluded.waiting,
		   last_automation = excluded.last_automation,
		   last_kb_topic = excluded.last_kb_topic,
		   updated_at = excluded.updated_at`,
		c.LeadID, c.ActiveProcedure, c.ActiveStep, waitingJSON, c.LastAutomation, c.LastKBTopic, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving lead context: %w", err)
	}
	return nil
}

// SetWaiting replaces the lead's waiting slot.
func (s *Store) SetWaiting(ctx context.Context, leadID string, w Waiting) error {
	c, err := s.Get(ctx, leadID)
	if err != nil {
		return err
	}
	c.Waiting = &w
	if w.AutomationID != "" {
		c.LastAutomation = w.AutomationID
	}
	return s.Save(ctx, c)
}

// ClearWaiting empties the waiting slot. Clearing an already-empty slot is
// not an error.
func (s *Store) ClearWaiting(ctx context.Context, leadID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lead_contexts SET waiting = NULL, updated_at = ? WHERE lead_id = ?`,
		time.Now().UTC(), leadID,
	)
	if err != nil {
		return fmt.Errorf("clearing waiting slot: %w", err)
	}
	return nil
}

// AppendTimeline registers an expects-reply event in the recovery log. This
// is a fire-and-forget write path independent of the waiting slot.
func (s *Store) AppendTimeline(ctx context.Context, e TimelineEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_timeline (id, lead_id, automation_id, target, prompt_text, consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.LeadID, e.AutomationID, e.Target, e.PromptText, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending timeline entry: %w", err)
	}
	return nil
}

// LatestTimelineEntry returns the most recent unconsumed registration inside
// the retroactive window, or nil when none exists.
func (s *Store) LatestTimelineEntry(ctx context.Context, leadID string, window time.Duration) (*TimelineEntry, error) {
	cutoff := time.Now().UTC().Add(-window)

	var e TimelineEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, automation_id, target, prompt_text, consumed, created_at
		 FROM reply_timeline
		 WHERE lead_id = ? AND consumed = 0 AND created_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		leadID, cutoff,
	).Scan(&e.ID, &e.LeadID, &e.AutomationID, &e.Target, &e.PromptText, &e.Consumed, &e.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	return &e, nil
}

// ConsumeTimeline marks an entry as used so it cannot resolve twice.
func (s *Store) ConsumeTimeline(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reply_timeline SET consumed = 1 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("consuming timeline entry: %w", err)
	}
	return nil
}

// PruneTimeline deletes registrations older than the retroactive window.
func (s *Store) PruneTimeline(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reply_timeline WHERE created_at <= ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning timeline: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordSend writes the cooldown ledger entry for a successful send.
func (s *Store) RecordSend(ctx context.Context, leadID, automationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldowns (lead_id, automation_id, last_sent_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(lead_id, automation_id) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
		leadID, automationID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording send: %w", err)
	}
	return nil
}

// LastSent returns the lead's cooldown ledger: automation id -> last send.
func (s *Store) LastSent(ctx context.Context, leadID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT automation_id, last_sent_at FROM cooldowns WHERE lead_id = ?`, leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cooldowns: %w", err)
	}
	defer rows.Close()

	ledger := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scanning cooldown: %w", err)
		}
		ledger[id] = at
	}
	return ledger, rows.Err()
}
