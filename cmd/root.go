package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "leadgate",
	Short: "Turn decision engine for conversational lead engagement",
	Long: `Leadgate decides what to send a lead next. Each inbound message runs
through a confirmation gate, rule-gated automation catalog, guided
procedures and a markdown knowledge base, producing exactly one
idempotent action plan per turn.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "leadgate.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
