package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and policy files",
	Long:  `Loads and cross-validates leadgate.yml and the policy files (catalog, procedures, confirmation targets), reporting the first error found in each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("config: ok (%s)\n", cfgFile)

		ps, err := loadPolicies(cfg.PoliciesDir)
		if err != nil {
			return err
		}
		fmt.Printf("catalog: ok (%d automations)\n", ps.catalog.Len())
		fmt.Printf("confirmation targets: ok (%d targets)\n", ps.targets.Len())
		if ps.procedures != nil {
			fmt.Printf("procedures: ok (%d procedures)\n", ps.procedures.Len())
			if cfg.DefaultProcedure != "" && ps.procedures.Get(cfg.DefaultProcedure) == nil {
				return fmt.Errorf("default_procedure %q not found in procedures file", cfg.DefaultProcedure)
			}
		} else {
			fmt.Println("procedures: none (optional)")
			if cfg.DefaultProcedure != "" {
				return fmt.Errorf("default_procedure %q set but no procedures file exists", cfg.DefaultProcedure)
			}
		}

		fmt.Println("All policy files are valid.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
