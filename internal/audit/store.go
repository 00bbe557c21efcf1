package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadgate/internal/db"
)

// Store persists decision-stage events.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts a new entry. If entry.ID is empty a UUID is generated.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	detail := "{}"
	if len(entry.Detail) > 0 {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshalling audit detail: %w", err)
		}
		detail = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, lead_id, decision_id, stage, outcome, reason, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.LeadID,
		entry.DecisionID,
		string(entry.Stage),
		string(entry.Outcome),
		entry.Reason,
		detail,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// Record logs an entry and only warns on failure. Decision stages call this
// so a broken audit trail never breaks a turn.
func (s *Store) Record(ctx context.Context, entry Entry) {
	if err := s.Log(ctx, entry); err != nil {
		log.Printf("audit: dropping entry for lead %s stage %s: %v", entry.LeadID, entry.Stage, err)
	}
}

// QueryFilter controls which entries are returned by Query.
type QueryFilter struct {
	LeadID     string
	DecisionID string
	Stage      Stage
	Outcome    Outcome
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Query returns entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.LeadID != "" {
		clauses = append(clauses, "lead_id = ?")
		args = append(args, filter.LeadID)
	}
	if filter.DecisionID != "" {
		clauses = append(clauses, "decision_id = ?")
		args = append(args, filter.DecisionID)
	}
	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.DateTime))
	}

	query := "SELECT id, timestamp, lead_id, decision_id, stage, outcome, reason, detail FROM audit_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes all entries older than the given time. Returns the
// number of deleted rows.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE timestamp < ?",
		before.UTC().Format(time.DateTime),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                       Entry
		ts, stage, outcome, raw string
	)

	err := sc.Scan(&e.ID, &ts, &e.LeadID, &e.DecisionID, &stage, &outcome, &e.Reason, &raw)
	if err != nil {
		return nil, err
	}

	e.Stage = Stage(stage)
	e.Outcome = Outcome(outcome)

	if t, parseErr := time.Parse(time.DateTime, ts); parseErr == nil {
		e.Timestamp = t
	} else if t, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		e.Timestamp = t
	}

	if raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &e.Detail); err != nil {
			e.Detail = nil
		}
	}

	return &e, nil
}
