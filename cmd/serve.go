package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"leadgate/internal/audit"
	"leadgate/internal/config"
	"leadgate/internal/db"
	"leadgate/internal/delivery"
	"leadgate/internal/engine"
	"leadgate/internal/gate"
	"leadgate/internal/intake"
	"leadgate/internal/kb"
	"leadgate/internal/leadctx"
	"leadgate/internal/llm"
	"leadgate/internal/plan"
	"leadgate/internal/server"
	"leadgate/internal/snapshot"
	"leadgate/internal/vectordb"
)

var servePort int

// engineRef lets the policy reload endpoint swap in a rebuilt engine and
// applier while requests keep flowing.
type engineRef struct {
	current atomic.Pointer[engine.Engine]
	applier atomic.Pointer[plan.Applier]
}

func (r *engineRef) ProcessTurn(ctx context.Context, leadID string, texts []string) (*engine.TurnResult, error) {
	return r.current.Load().ProcessTurn(ctx, leadID, texts)
}

func (r *engineRef) Apply(ctx context.Context, p *plan.Plan) (*plan.Result, error) {
	return r.applier.Load().Apply(ctx, p)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the turn decision server",
	Long:  `Starts the leadgate HTTP server: inbound message intake, turn processing, plan application and the decision audit trail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Port = servePort
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, "leadgate.db")
		database, err := db.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		// The LLM provider is optional: without one the gate runs in
		// deterministic mode, intake proposals are disabled and KB answers
		// are verbatim snippets.
		provider, err := createLLMProviderFromConfig(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: no LLM provider (%v), running deterministic-only\n", err)
			provider = nil
		}

		knowledge, documents := buildKnowledgeBase(cfg, provider)

		contexts := leadctx.NewStore(database)
		snapshots := snapshot.NewStore(database)
		audits := audit.NewStore(database)

		var sender plan.Sender = delivery.NopSender{}
		if cfg.Outbound.WebhookURL != "" {
			sender = delivery.NewWebhookSender(cfg.Outbound.WebhookURL, cfg.Outbound.Token)
		}

		buildEngine := func() (*engine.Engine, *plan.Applier, error) {
			ps, err := loadPolicies(cfg.PoliciesDir)
			if err != nil {
				return nil, nil, err
			}

			applier := plan.NewApplier(database, snapshots, contexts, ps.catalog, ps.targets.TTLFor, sender)

			gateCfg := gate.Config{
				Mode:         gate.Mode(cfg.Confirm.Mode),
				Model:        cfg.Model,
				Timeout:      time.Duration(cfg.Confirm.TimeoutMS) * time.Millisecond,
				LLMThreshold: cfg.Confirm.LLMThreshold,
				DetThreshold: cfg.Confirm.DetThreshold,
				RetroWindow:  time.Duration(cfg.Confirm.RetroWindowMinutes) * time.Minute,
			}
			g := gate.New(database, ps.targets, contexts, snapshots, ps.catalog, provider, leadctx.NewLocks(), gateCfg)

			var classifier *intake.Classifier
			if provider != nil {
				classifier = intake.NewClassifier(provider, cfg.Model, cfg.Intake.Samples,
					time.Duration(cfg.Intake.SampleTimeoutMS)*time.Millisecond)
			}

			orch := engine.NewOrchestrator(ps.catalog, ps.procedures, ps.targets, contexts, knowledge, audits, cfg.DefaultProcedure)
			eng := engine.New(g, orch, classifier, applier, snapshots, audits, engine.Config{
				TurnBudget:     time.Duration(cfg.Turn.BudgetSeconds) * time.Second,
				CoalesceWindow: time.Duration(cfg.Turn.CoalesceWindowMS) * time.Millisecond,
			})
			return eng, applier, nil
		}

		eng, applier, err := buildEngine()
		if err != nil {
			return err
		}
		ref := &engineRef{}
		ref.current.Store(eng)
		ref.applier.Store(applier)

		coalescer := engine.NewCoalescer(
			time.Duration(cfg.Turn.CoalesceWindowMS)*time.Millisecond,
			func(leadID string, texts []string) {
				if _, err := ref.ProcessTurn(context.Background(), leadID, texts); err != nil {
					fmt.Fprintf(os.Stderr, "turn failed for lead %s: %v\n", leadID, err)
				}
			})

		reload := func(ctx context.Context) error {
			newEng, newApplier, err := buildEngine()
			if err != nil {
				return err
			}
			ref.current.Store(newEng)
			ref.applier.Store(newApplier)
			return nil
		}

		srv := server.New(server.Config{
			Port:     cfg.Port,
			AllowAll: cfg.AllowAllOrigins,
		}, ref, coalescer, ref, contexts, snapshots, audits, reload)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			srv.Shutdown(context.Background())
		}()

		fmt.Fprintf(os.Stderr, "leadgate v%s starting on port %d\n", Version, cfg.Port)
		fmt.Fprintf(os.Stderr, "  Database: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "  Policies: %s\n", cfg.PoliciesDir)
		fmt.Fprintf(os.Stderr, "  KB snippets indexed: %d\n", documents)

		return srv.Start()
	},
}

// buildKnowledgeBase loads the persisted vector store if one exists. A
// missing or unloadable store is not fatal: the KB stage just never
// answers.
func buildKnowledgeBase(cfg *config.Config, provider llm.Provider) (*kb.KB, int) {
	embedder, err := createEmbedderFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: no embedder (%v), knowledge base disabled\n", err)
		return nil, 0
	}
	store, err := vectordb.NewChromemStore(embedder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: creating vector store: %v\n", err)
		return nil, 0
	}

	vectorDir := filepath.Join(cfg.DataDir, "vectordb")
	if err := store.Load(context.Background(), vectorDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load vector store from %s: %v\n", vectorDir, err)
		fmt.Fprintf(os.Stderr, "Knowledge base answers will be empty. Run `leadgate kb index` first.\n")
	}

	return kb.New(store, provider, cfg.Model), store.Count()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured HTTP port")
	rootCmd.AddCommand(serveCmd)
}
