// Package authz implements the Permission Resolver (C5): actor to
// categorized permission set, role expansion, wildcard evaluation, and a
// TTL-bounded cache, fail-closed throughout.
package authz

import (
	"context"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
)

var moduleWildcardPattern = regexp.MustCompile(`^[a-z0-9_]+\.\*$`)

// PermissionView is the categorized triple from spec §3/§4.5.
type PermissionView struct {
	HasGlobalWildcard bool
	ModuleWildcards   map[string]struct{}
	ExactPermissions  map[string]struct{}
}

func emptyView() PermissionView {
	return PermissionView{
		ModuleWildcards:  make(map[string]struct{}),
		ExactPermissions: make(map[string]struct{}),
	}
}

// Role is the minimal view of a role the resolver needs: its permission
// keys and whether it is currently active. The Role & Module Registry (C9)
// owns the full entity.
type Role struct {
	Key            string
	Status         string
	PermissionKeys []string
}

// RoleSource loads active roles by key for permission resolution. Satisfied
// by the Registry (C9) in production and by fakes in tests.
type RoleSource interface {
	FindActiveByKeys(ctx context.Context, keys []string) ([]Role, error)
}

// ActorRoles resolves an actor's role-key set ahead of permission expansion.
type ActorRoles struct {
	ActorType string // "user" or "service"
	ActorID   string
	RoleKeys  []string
}

const cacheKeyPrefix = "permissions:"

// Resolver is the Permission Resolver (C5).
type Resolver struct {
	roles RoleSource
	bus   eventbus.Bus
	cache *lru.LRU[string, PermissionView]
}

// New constructs a Resolver with a TTL+bounded cache sized per spec §6's
// AUTHZ_CACHE_TTL_MS / AUTHZ_MAX_CACHE_SIZE.
func New(roles RoleSource, bus eventbus.Bus, ttl time.Duration, maxSize int) *Resolver {
	return &Resolver{
		roles: roles,
		bus:   bus,
		cache: lru.NewLRU[string, PermissionView](maxSize, nil, ttl),
	}
}

// ResolvePermissions implements spec §4.5's resolution algorithm. Any error
// loading roles returns an empty PermissionView — fail-closed, never a
// populated view on error (testable invariant regime, spec §4.5/§7).
func (r *Resolver) ResolvePermissions(ctx context.Context, actor ActorRoles) PermissionView {
	key := cacheKeyPrefix + actor.ActorType + ":" + actor.ActorID
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	roles, err := r.roles.FindActiveByKeys(ctx, actor.RoleKeys)
	if err != nil {
		return emptyView()
	}

	view := emptyView()
	for _, role := range roles {
		if role.Status != "active" {
			continue
		}
		for _, raw := range role.PermissionKeys {
			classify(normalize(raw), &view)
		}
	}

	r.cache.Add(key, view)
	return view
}

// HasPermission implements spec §4.5's evaluation rules.
func HasPermission(view PermissionView, required string) bool {
	required = normalize(required)
	if view.HasGlobalWildcard {
		return true
	}
	if _, ok := view.ExactPermissions[required]; ok {
		return true
	}
	if idx := strings.IndexByte(required, '.'); idx >= 0 {
		module := required[:idx]
		if _, ok := view.ModuleWildcards[module+".*"]; ok {
			return true
		}
	}
	return false
}

// Invalidate drops the cached view for one actor — called whenever a write
// could affect that actor's permissions (role mutated, user roles changed,
// role disabled).
func (r *Resolver) Invalidate(actorType, actorID string) {
	r.cache.Remove(cacheKeyPrefix + actorType + ":" + actorID)
	if r.bus != nil {
		r.bus.Emit(eventbus.TopicPermissionsChanged, actorID)
	}
}

// ClearAll drops every cached view — acceptable per spec §4.5 when the set
// of affected actors is unbounded (e.g. a role's permissionKeys changed).
func (r *Resolver) ClearAll() {
	r.cache.Purge()
	if r.bus != nil {
		r.bus.Emit(eventbus.TopicPermissionsChanged, "*")
	}
}

// ValidateRoleCombination enforces the combination matrix from spec §3:
// super_admin carries no additional roles and is never itself additional;
// user may combine with {merchant, admin, ops}; merchant|admin|ops may
// combine only with user.
func ValidateRoleCombination(role string, additional []string) (valid bool, errMsg string) {
	role = normalize(role)
	norm := make([]string, len(additional))
	for i, a := range additional {
		norm[i] = normalize(a)
	}

	if role == "super_admin" {
		if len(norm) > 0 {
			return false, "super_admin cannot carry additional roles"
		}
		return true, ""
	}

	for _, a := range norm {
		if a == "super_admin" {
			return false, "super_admin cannot be an additional role"
		}
	}

	switch role {
	case "user":
		for _, a := range norm {
			if a != "merchant" && a != "admin" && a != "ops" {
				return false, "user may only combine with merchant, admin, or ops"
			}
		}
		return true, ""
	case "merchant", "admin", "ops":
		for _, a := range norm {
			if a != "user" {
				return false, role + " may only combine with user"
			}
		}
		return true, ""
	default:
		// Custom, non-reserved primary roles carry no combination
		// constraint beyond excluding super_admin (already checked above).
		return true, ""
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func classify(permKey string, view *PermissionView) {
	switch {
	case permKey == "*":
		view.HasGlobalWildcard = true
	case moduleWildcardPattern.MatchString(permKey):
		view.ModuleWildcards[permKey] = struct{}{}
	default:
		view.ExactPermissions[permKey] = struct{}{}
	}
}
