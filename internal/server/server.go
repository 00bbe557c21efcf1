package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"leadgate/internal/audit"
	"leadgate/internal/engine"
	"leadgate/internal/leadctx"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// ReloadFunc swaps the policy set (catalog, procedures, confirmation
// targets) for a freshly loaded one. Loads must be atomic: either the whole
// new set is in place afterwards or the old one is untouched.
type ReloadFunc func(ctx context.Context) error

// TurnRunner processes one coalesced turn. Satisfied by *engine.Engine; the
// indirection lets a policy reload swap in a rebuilt engine without
// restarting the server.
type TurnRunner interface {
	ProcessTurn(ctx context.Context, leadID string, texts []string) (*engine.TurnResult, error)
}

// PlanApplier applies a plan idempotently. Satisfied by *plan.Applier.
type PlanApplier interface {
	Apply(ctx context.Context, p *plan.Plan) (*plan.Result, error)
}

// Server exposes the turn engine over HTTP: inbound messages, direct plan
// application, lead inspection and the audit trail.
type Server struct {
	cfg        Config
	engine     TurnRunner
	coalescer  *engine.Coalescer
	applier    PlanApplier
	contexts   *leadctx.Store
	snapshots  *snapshot.Store
	audits     *audit.Store
	reload     ReloadFunc
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with all dependencies. reload may be nil, disabling
// the policy reload endpoint.
func New(cfg Config, eng TurnRunner, coalescer *engine.Coalescer, applier PlanApplier, contexts *leadctx.Store, snapshots *snapshot.Store, audits *audit.Store, reload ReloadFunc) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    eng,
		coalescer: coalescer,
		applier:   applier,
		contexts:  contexts,
		snapshots: snapshots,
		audits:    audits,
		reload:    reload,
	}

	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Post("/turn", s.handleTurn)
		r.Post("/plans/apply", s.handleApplyPlan)
		r.Get("/leads/{leadID}/context", s.handleLeadContext)
		r.Get("/audit", s.handleAuditQuery)
		r.Post("/policies/reload", s.handlePoliciesReload)
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("leadgate server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown flushes pending message batches and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.coalescer != nil {
		s.coalescer.FlushAll()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
