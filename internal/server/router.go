// Package server assembles the chi.Router exposing the trust core's HTTP
// surface (spec §6), adapted from the teacher's internal/server/router.go
// NewRouter(opts RouterOptions) shape.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/athendat/classical-server-app-sub000/internal/audit"
	"github.com/athendat/classical-server-app-sub000/internal/authz"
	"github.com/athendat/classical-server-app-sub000/internal/devicekeys"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/identity"
	"github.com/athendat/classical-server-app-sub000/internal/keyring"
	customMiddleware "github.com/athendat/classical-server-app-sub000/internal/middleware"
	"github.com/athendat/classical-server-app-sub000/internal/registry"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
	"github.com/athendat/classical-server-app-sub000/internal/tokens"
)

// RouterOptions controls the construction of the trust core's HTTP router.
// The zero value is not valid: Tokens, Users, Registry, Resolver and
// Audit must all be set for the protected surface to mount.
type RouterOptions struct {
	Tokens        *tokens.Engine
	Users         *identity.Store
	Registry      *registry.Registry
	Devices       *devicekeys.Exchanger
	Audit         *audit.Pipeline
	Resolver      *authz.Resolver
	Keyring       *keyring.Ring
	Bus           eventbus.Bus
	APIKey        string
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc

	// TokenAudience, AccessTokenLifetime and RefreshTokenLifetime configure
	// the access/refresh pairs minted by /auth/login and /auth/refresh.
	TokenAudience        string
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
}

func defaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "x-api-key", "x-request-id"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true,"statusCode":200,"data":{"status":"healthy"}}`))
}

// roleKeysLookup resolves an authenticated actor's effective role-key set
// for the Permission Guard directly from the verified token's scope claim
// (space-joined role keys, set by authHandlers.issueTokens), avoiding a
// second Identity Store round trip per guarded request.
func roleKeysLookup() customMiddleware.RoleKeysLookup {
	return func(actor *reqctx.Actor) authz.ActorRoles {
		actorType := "user"
		if actor.Kind == reqctx.ActorKindService {
			actorType = "service"
		}
		return authz.ActorRoles{ActorType: actorType, ActorID: actor.ID, RoleKeys: actor.Scopes}
	}
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// every handler group from spec §6 mounted.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := defaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	if opts.APIKey != "" {
		r.Use(customMiddleware.APIKey(opts.APIKey))
	}
	if opts.Tokens != nil {
		r.Use(customMiddleware.Authenticate(opts.Tokens))
	}
	if opts.Audit != nil {
		r.Use(customMiddleware.AuditResponseCapture(opts.Bus))
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)
	r.Get("/metrics", newMetricsHandler(opts))

	if opts.Tokens != nil && opts.Users != nil {
		accessLifetime := opts.AccessTokenLifetime
		if accessLifetime == 0 {
			accessLifetime = time.Hour
		}
		refreshLifetime := opts.RefreshTokenLifetime
		if refreshLifetime == 0 {
			refreshLifetime = 24 * time.Hour
		}
		auth := newAuthHandlers(opts.Users, opts.Tokens, opts.TokenAudience, accessLifetime, refreshLifetime)
		r.Post("/auth/login", auth.login)
		r.Post("/auth/refresh", auth.refresh)
	}

	if opts.Keyring != nil {
		r.Get("/.well-known/jwks.json", newJWKSHandler(opts.Keyring))
	}

	guard := func(perms ...string) func(http.Handler) http.Handler {
		return customMiddleware.Guard(opts.Resolver, roleKeysLookup(), opts.Audit, perms...)
	}

	if opts.Users != nil {
		users := newUserHandlers(opts.Users)
		r.Group(func(r chi.Router) {
			r.Use(guard("users.create"))
			r.Post("/users", users.create)
			r.Get("/users", users.list)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("users.read"))
			r.Get("/users/{id}", users.get)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("users.update"))
			r.Patch("/users/{id}/roles", users.updateRoles)
			r.Patch("/users/{id}/password", users.updatePassword)
			r.Patch("/users/{id}/disable", users.disable)
		})
	}

	if opts.Registry != nil {
		reg := newRegistryHandlers(opts.Registry)
		r.Group(func(r chi.Router) {
			r.Use(guard("roles.create"))
			r.Post("/roles", reg.createRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("roles.read"))
			r.Get("/roles", reg.listRoles)
			r.Get("/roles/{id}", reg.getRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("roles.update"))
			r.Patch("/roles/{id}", reg.updateRole)
			r.Patch("/roles/{id}/permissions", reg.updateRolePermissions)
			r.Patch("/roles/{id}/disable", reg.disableRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("roles.delete"))
			r.Delete("/roles/{id}", reg.deleteRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("modules.create"))
			r.Post("/modules", reg.createModule)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("modules.read"))
			r.Get("/modules", reg.listModules)
			r.Get("/modules/{id}", reg.getModule)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("modules.update"))
			r.Patch("/modules/{id}", reg.updateModule)
			r.Patch("/modules/{id}/disable", reg.disableModule)
			r.Patch("/modules/{id}/reorder", reg.reorderModule)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("modules.delete"))
			r.Delete("/modules/{id}", reg.deleteModule)
		})
	}

	if opts.Devices != nil {
		devices := newDeviceHandlers(opts.Devices)
		r.Group(func(r chi.Router) {
			r.Use(guard("devices.create"))
			r.Post("/devices/exchange", devices.exchange)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("devices.update"))
			r.Post("/devices/{deviceId}/rotate", devices.rotate)
		})
	}

	if opts.Audit != nil {
		auditH := newAuditHandlers(opts.Audit)
		r.Group(func(r chi.Router) {
			r.Use(guard("audit.read"))
			r.Get("/audit", auditH.query)
			r.Get("/audit/{id}", auditH.get)
			r.Get("/audit/summary", auditH.summarize)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard("audit.delete"))
			r.Post("/audit/archive", auditH.archive)
		})
	}

	return r
}
