package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/athendat/classical-server-app-sub000/internal/db/bunx"
	"github.com/athendat/classical-server-app-sub000/internal/identity"
	"github.com/athendat/classical-server-app-sub000/internal/repository"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Identity store maintenance commands",
}

var usersSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the super_admin account",
	Long:  `Creates the super_admin account from the configured credentials when the user collection is empty. Safe to rerun: a no-op once any user exists or when no credentials are configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		userRepo := repository.NewBunUserRepository(db)
		users := identity.New(userRepo)

		if err := users.SeedSuperAdmin(cmd.Context(), cfg.SuperAdminEmail, cfg.SuperAdminPassword); err != nil {
			return fmt.Errorf("seed super admin: %w", err)
		}
		log.Printf("super_admin seed step complete")
		return nil
	},
}

func init() {
	usersCmd.AddCommand(usersSeedCmd)
}
