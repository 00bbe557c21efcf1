package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leadgate/internal/audit"
	"leadgate/internal/catalog"
	"leadgate/internal/db"
	"leadgate/internal/engine"
	"leadgate/internal/gate"
	"leadgate/internal/leadctx"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
)

type countingSender struct{ sent int }

func (c *countingSender) Send(context.Context, string, plan.Action) error {
	c.sent++
	return nil
}

func setupServer(t *testing.T) (*Server, *countingSender) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cat, err := catalog.New([]catalog.Automation{
		{
			ID:          "oferta_teste",
			Eligibility: "quer testar",
			Priority:    0.9,
			Output:      catalog.Output{Text: "Consegue fazer um depósito?"},
		},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	targets, err := gate.NewTargets(nil, cat)
	if err != nil {
		t.Fatalf("NewTargets: %v", err)
	}

	contexts := leadctx.NewStore(database)
	snapshots := snapshot.NewStore(database)
	audits := audit.NewStore(database)
	sender := &countingSender{}
	applier := plan.NewApplier(database, snapshots, contexts, cat, targets.TTLFor, sender)

	gateCfg := gate.DefaultConfig()
	gateCfg.Mode = gate.ModeDetOnly
	g := gate.New(database, targets, contexts, snapshots, cat, nil, leadctx.NewLocks(), gateCfg)

	orch := engine.NewOrchestrator(cat, nil, targets, contexts, nil, audits, "")
	eng := engine.New(g, orch, nil, applier, snapshots, audits, engine.Config{TurnBudget: 5 * time.Second})

	srv := New(Config{Port: 0}, eng, nil, applier, contexts, snapshots, audits, nil)
	return srv, sender
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestMessageRunsTurnWithoutCoalescer(t *testing.T) {
	srv, sender := setupServer(t)

	w := doJSON(t, srv, "POST", "/api/messages", `{"lead_id":"lead-1","text":"quero testar"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result engine.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Stage != audit.StageSelection {
		t.Errorf("stage = %q", result.Stage)
	}
	if sender.sent != 1 {
		t.Errorf("sent = %d, want 1", sender.sent)
	}
}

func TestMessageValidation(t *testing.T) {
	srv, _ := setupServer(t)

	for _, body := range []string{`{}`, `{"lead_id":"x"}`, `{"text":"oi"}`, `not json`} {
		w := doJSON(t, srv, "POST", "/api/messages", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestApplyPlanIdempotencyKey(t *testing.T) {
	srv, sender := setupServer(t)

	body := `{"lead_id":"lead-1","actions":[{"type":"send_message","text":"olá"}]}`
	for range 2 {
		req := httptest.NewRequest("POST", "/api/plans/apply", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", "decision-abc")
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	}

	if sender.sent != 1 {
		t.Errorf("sent = %d, want 1 (second apply must replay)", sender.sent)
	}
}

func TestLeadContextEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	if w := doJSON(t, srv, "POST", "/api/messages", `{"lead_id":"lead-1","text":"quero testar"}`); w.Code != http.StatusOK {
		t.Fatalf("turn failed: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/leads/lead-1/context", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		LeadID   string         `json:"lead_id"`
		Snapshot map[string]any `json:"snapshot"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.LeadID != "lead-1" || body.Snapshot == nil {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuditEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	if w := doJSON(t, srv, "POST", "/api/messages", `{"lead_id":"lead-1","text":"quero testar"}`); w.Code != http.StatusOK {
		t.Fatalf("turn failed: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/audit?lead_id=lead-1&stage=selection", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Count   int           `json:"count"`
		Entries []audit.Entry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count == 0 {
		t.Error("no selection entries in audit trail")
	}

	if w := doJSON(t, srv, "GET", "/api/audit?limit=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestReloadNotConfigured(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "POST", "/api/policies/reload", "")
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", w.Code)
	}
}
