package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"leadgate/internal/audit"
	"leadgate/internal/db"
	"leadgate/internal/delivery"
	"leadgate/internal/engine"
	"leadgate/internal/gate"
	"leadgate/internal/leadctx"
	"leadgate/internal/plan"
	"leadgate/internal/snapshot"
)

var simulateLead string

var simulateCmd = &cobra.Command{
	Use:   "simulate <message>...",
	Short: "Run one turn locally without delivering anything",
	Long: `Processes the given message(s) as one coalesced turn against the local
database and policy files, printing the resulting plan instead of
sending it. The confirmation gate runs in deterministic mode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.Open(filepath.Join(cfg.DataDir, "leadgate.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		ps, err := loadPolicies(cfg.PoliciesDir)
		if err != nil {
			return err
		}

		contexts := leadctx.NewStore(database)
		snapshots := snapshot.NewStore(database)
		audits := audit.NewStore(database)
		applier := plan.NewApplier(database, snapshots, contexts, ps.catalog, ps.targets.TTLFor, delivery.NopSender{})

		gateCfg := gate.DefaultConfig()
		gateCfg.Mode = gate.ModeDetOnly
		g := gate.New(database, ps.targets, contexts, snapshots, ps.catalog, nil, leadctx.NewLocks(), gateCfg)

		orch := engine.NewOrchestrator(ps.catalog, ps.procedures, ps.targets, contexts, nil, audits, cfg.DefaultProcedure)
		eng := engine.New(g, orch, nil, applier, snapshots, audits, engine.Config{
			TurnBudget: time.Duration(cfg.Turn.BudgetSeconds) * time.Second,
		})

		result, err := eng.ProcessTurn(context.Background(), simulateLead, args)
		if err != nil {
			return fmt.Errorf("processing turn: %w", err)
		}

		fmt.Printf("stage: %s\nreason: %s\ngate handled: %v\ndecision: %s\n",
			result.Stage, result.Reason, result.GateHandled, result.Plan.DecisionID)
		for i, a := range result.Plan.Actions {
			fmt.Printf("  action %d: %s", i+1, a.Type)
			if a.Text != "" {
				fmt.Printf(" %q", a.Text)
			}
			if a.AutomationID != "" {
				fmt.Printf(" (automation %s)", a.AutomationID)
			}
			if len(a.SetFacts) > 0 {
				fmt.Printf(" facts=%v", a.SetFacts)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateLead, "lead", "simulated-lead", "lead id to run the turn for")
	rootCmd.AddCommand(simulateCmd)
}
