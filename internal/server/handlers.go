package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"leadgate/internal/audit"
	"leadgate/internal/plan"
)

type messageRequest struct {
	LeadID string `json:"lead_id"`
	Text   string `json:"text"`
}

type turnRequest struct {
	LeadID string   `json:"lead_id"`
	Texts  []string `json:"texts"`
}

// handleMessage accepts one inbound lead message. With a coalescer the
// message joins the lead's current batch and the call returns immediately;
// without one the turn runs inline.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LeadID == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "lead_id and text are required")
		return
	}

	if s.coalescer != nil {
		s.coalescer.Submit(req.LeadID, req.Text)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := s.engine.ProcessTurn(r.Context(), req.LeadID, []string{req.Text})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTurn runs one turn synchronously over an already-batched message
// window, oldest first.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LeadID == "" || len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "lead_id and texts are required")
		return
	}

	result, err := s.engine.ProcessTurn(r.Context(), req.LeadID, req.Texts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleApplyPlan applies a plan directly. An X-Idempotency-Key header
// overrides the decision id, letting callers retry safely.
func (s *Server) handleApplyPlan(w http.ResponseWriter, r *http.Request) {
	var p plan.Plan
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if key := r.Header.Get("X-Idempotency-Key"); key != "" {
		p.DecisionID = key
	}
	if p.LeadID == "" {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}
	if p.DecisionID == "" {
		p.DecisionID = plan.NewDecisionID()
	}

	result, err := s.applier.Apply(r.Context(), &p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLeadContext returns the lead's working context, snapshot and send
// ledger in one payload.
func (s *Server) handleLeadContext(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	lc, err := s.contexts.Get(r.Context(), leadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, err := s.snapshots.Load(r.Context(), leadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lastSent, err := s.contexts.LastSent(r.Context(), leadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lead_id":   leadID,
		"context":   lc,
		"snapshot":  snap,
		"last_sent": lastSent,
	})
}

// handleAuditQuery filters the decision audit trail. All filters are
// optional; results are newest first.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		LeadID:     q.Get("lead_id"),
		DecisionID: q.Get("decision_id"),
		Stage:      audit.Stage(q.Get("stage")),
		Outcome:    audit.Outcome(q.Get("outcome")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &ts
	}

	entries, err := s.audits.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handlePoliciesReload swaps in freshly loaded policy files.
func (s *Server) handlePoliciesReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusNotImplemented, "policy reload not configured")
		return
	}
	if err := s.reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
