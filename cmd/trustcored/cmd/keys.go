package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/keyring"
	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Signing key ring commands",
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Manually rotate the active signing key",
	Long:  `Forces a new signing key into rotation outside of the Key Ring's own rotation interval, for example ahead of a suspected compromise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, err := secretstore.NewFileStore(cfg.VaultKVMount)
		if err != nil {
			return fmt.Errorf("open secret store: %w", err)
		}

		bus := eventbus.NewInProcess()
		ring, err := keyring.New(secrets, bus,
			keyring.WithRotationInterval(time.Duration(cfg.JWKSRotationIntervalHours)*time.Hour))
		if err != nil {
			return fmt.Errorf("initialize key ring: %w", err)
		}

		key, err := ring.Rotate()
		if err != nil {
			return fmt.Errorf("rotate key: %w", err)
		}
		log.Printf("rotated, new active key: %s", key.Kid)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked signing keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, err := secretstore.NewFileStore(cfg.VaultKVMount)
		if err != nil {
			return fmt.Errorf("open secret store: %w", err)
		}

		bus := eventbus.NewInProcess()
		ring, err := keyring.New(secrets, bus,
			keyring.WithRotationInterval(time.Duration(cfg.JWKSRotationIntervalHours)*time.Hour))
		if err != nil {
			return fmt.Errorf("initialize key ring: %w", err)
		}

		for _, k := range ring.ListKeys() {
			active := ""
			if k.IsActive {
				active = " (active)"
			}
			log.Printf("  %s%s", k.Kid, active)
		}
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysRotateCmd)
	keysCmd.AddCommand(keysListCmd)
}
