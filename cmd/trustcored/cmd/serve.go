package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/athendat/classical-server-app-sub000/internal/audit"
	"github.com/athendat/classical-server-app-sub000/internal/authz"
	"github.com/athendat/classical-server-app-sub000/internal/db/bunx"
	"github.com/athendat/classical-server-app-sub000/internal/devicekeys"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/identity"
	"github.com/athendat/classical-server-app-sub000/internal/keyring"
	"github.com/athendat/classical-server-app-sub000/internal/registry"
	"github.com/athendat/classical-server-app-sub000/internal/repository"
	"github.com/athendat/classical-server-app-sub000/internal/replay"
	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
	"github.com/athendat/classical-server-app-sub000/internal/server"
	"github.com/athendat/classical-server-app-sub000/internal/tokens"
)

// registryRoleSource adapts the Role & Module Registry (C9) to the narrow
// RoleSource the Permission Resolver (C5) depends on, translating
// models.Role rows into the resolver's minimal authz.Role view.
type registryRoleSource struct {
	reg *registry.Registry
}

func (s *registryRoleSource) FindActiveByKeys(ctx context.Context, keys []string) ([]authz.Role, error) {
	roles, err := s.reg.FindActiveRolesByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]authz.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, authz.Role{Key: r.Key, Status: r.Status, PermissionKeys: r.PermissionKeys})
	}
	return out, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trust core HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)
		log.Printf("connected to database")

		bus := eventbus.NewInProcess()

		secrets, err := secretstore.NewFileStore(cfg.VaultKVMount)
		if err != nil {
			return fmt.Errorf("open secret store: %w", err)
		}

		ring, err := keyring.New(secrets, bus,
			keyring.WithRotationInterval(time.Duration(cfg.JWKSRotationIntervalHours)*time.Hour))
		if err != nil {
			return fmt.Errorf("initialize key ring: %w", err)
		}

		replayStore := replay.NewInMemory()
		ctx := cmd.Context()
		replay.StartSweeper(ctx, replayStore, time.Minute)

		tokenEngine := tokens.New(ring, replayStore, bus, cfg.JWTIssuer, cfg.JWTAudience, time.Duration(cfg.JWTClockSkewSec)*time.Second)

		roleRepo := repository.NewBunRoleRepository(db)
		moduleRepo := repository.NewBunModuleRepository(db)
		userRepo := repository.NewBunUserRepository(db)
		deviceRepo := repository.NewBunDeviceRepository(db)
		auditStore := repository.NewBunAuditStore(db)

		// registry.New needs a PermissionInvalidator (satisfied by *authz.Resolver)
		// and authz.New needs the Registry as its RoleSource — break the cycle
		// with a forward-reference adapter whose backing Registry is filled in
		// once both sides exist.
		roleSource := &registryRoleSource{}
		resolver := authz.New(roleSource, bus, cfg.AuthzCacheTTL, cfg.AuthzMaxCacheSize)
		reg := registry.New(roleRepo, moduleRepo, bus, resolver)
		roleSource.reg = reg

		users := identity.New(userRepo)
		if err := users.SeedSuperAdmin(ctx, cfg.SuperAdminEmail, cfg.SuperAdminPassword); err != nil {
			return fmt.Errorf("seed super admin: %w", err)
		}

		exchanger := devicekeys.New(deviceRepo, secrets, bus, cfg.MaxDevicesPerUser,
			time.Duration(cfg.KeyValidityDays)*24*time.Hour, cfg.HKDFInfo, cfg.HKDFOutputLength)

		pipeline := audit.New(auditStore, bus)
		defer pipeline.Close()

		router := server.NewRouter(server.RouterOptions{
			Tokens:               tokenEngine,
			Users:                users,
			Registry:             reg,
			Devices:              exchanger,
			Audit:                pipeline,
			Resolver:             resolver,
			Keyring:              ring,
			Bus:                  bus,
			APIKey:               cfg.APIKey,
			TokenAudience:        cfg.JWTAudience,
			AccessTokenLifetime:  time.Duration(cfg.JWTExpirationSec) * time.Second,
			RefreshTokenLifetime: time.Duration(cfg.JWTRefreshExpireSec) * time.Second,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("listening on %s", cfg.ServerAddr)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			log.Printf("received signal %v, shutting down gracefully", sig)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			log.Printf("server stopped")
		}

		return nil
	},
}
