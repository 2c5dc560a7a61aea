// Package cmd implements trustcored's cobra command tree, adapted from the
// teacher's cmd/gridapi/cmd package.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/athendat/classical-server-app-sub000/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "trustcored",
	Short: "Trust core identity and authorization service",
	Long:  `trustcored signs and verifies trust tokens, resolves permissions, and manages the identity/device registries behind it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(usersCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
