package cmd

import (
	"github.com/spf13/cobra"

	"leadgate/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize leadgate configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure leadgate and generates a leadgate.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
