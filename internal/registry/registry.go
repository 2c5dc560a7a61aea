// Package registry implements the Role & Module Registry (C9): definitional
// stores for roles and modules, with a 60s findAll cache invalidated on
// every write, adapted from the teacher's caching repository pattern.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/db/models"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
)

const findAllCacheTTL = 60 * time.Second

var actionPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// RoleRepository is the persistence dependency for role operations.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	FindAll(ctx context.Context) ([]models.Role, error)
	FindByID(ctx context.Context, id string) (*models.Role, error)
	FindByKey(ctx context.Context, key string) (*models.Role, error)
	FindActiveByKeys(ctx context.Context, keys []string) ([]models.Role, error)
	FindSystemRoles(ctx context.Context) ([]models.Role, error)
	Update(ctx context.Context, role *models.Role) error
	HardDelete(ctx context.Context, id string) error
}

// ModuleRepository is the persistence dependency for module operations.
type ModuleRepository interface {
	Create(ctx context.Context, module *models.Module) error
	FindAll(ctx context.Context) ([]models.Module, error)
	FindByID(ctx context.Context, id string) (*models.Module, error)
	FindByIndicator(ctx context.Context, indicator string) (*models.Module, error)
	FindSystemModules(ctx context.Context) ([]models.Module, error)
	FindSiblings(ctx context.Context, parent string) ([]models.Module, error)
	Update(ctx context.Context, module *models.Module) error
	HardDelete(ctx context.Context, id string) error
}

// PermissionInvalidator is the narrow slice of authz.Resolver the registry
// needs to keep the permission cache coherent on writes that change roles.
type PermissionInvalidator interface {
	ClearAll()
}

// Registry implements role and module definitional operations (C9).
type Registry struct {
	roles   RoleRepository
	modules ModuleRepository
	bus     eventbus.Bus
	authz   PermissionInvalidator

	mu             sync.Mutex
	rolesCache     []models.Role
	rolesCachedAt  time.Time
	modulesCache   []models.Module
	modulesCachedAt time.Time
}

// New constructs a Registry.
func New(roles RoleRepository, modules ModuleRepository, bus eventbus.Bus, authz PermissionInvalidator) *Registry {
	return &Registry{roles: roles, modules: modules, bus: bus, authz: authz}
}

func (r *Registry) invalidateRolesCache() {
	r.mu.Lock()
	r.rolesCache = nil
	r.mu.Unlock()
	if r.authz != nil {
		r.authz.ClearAll()
	}
	if r.bus != nil {
		r.bus.Emit(eventbus.TopicPermissionsChanged, nil)
	}
}

func (r *Registry) invalidateModulesCache() {
	r.mu.Lock()
	r.modulesCache = nil
	r.mu.Unlock()
}

// CreateRole inserts a new role.
func (r *Registry) CreateRole(ctx context.Context, key, name string, permissionKeys []string) (*models.Role, error) {
	now := time.Now()
	role := &models.Role{
		ID:             uuid.NewString(),
		Key:            strings.ToLower(strings.TrimSpace(key)),
		Name:           name,
		PermissionKeys: permissionKeys,
		Status:         "active",
		IsSystem:       false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	r.invalidateRolesCache()
	return role, nil
}

// FindAllRoles returns every role, cached for 60s.
func (r *Registry) FindAllRoles(ctx context.Context) ([]models.Role, error) {
	r.mu.Lock()
	if r.rolesCache != nil && time.Since(r.rolesCachedAt) < findAllCacheTTL {
		cached := r.rolesCache
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	roles, err := r.roles.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.rolesCache = roles
	r.rolesCachedAt = time.Now()
	r.mu.Unlock()
	return roles, nil
}

// FindRoleByID looks up a role by id.
func (r *Registry) FindRoleByID(ctx context.Context, id string) (*models.Role, error) {
	role, err := r.roles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, apperr.New(apperr.RoleNotFound, "role not found")
	}
	return role, nil
}

// FindRoleByKey looks up a role by its unique key.
func (r *Registry) FindRoleByKey(ctx context.Context, key string) (*models.Role, error) {
	role, err := r.roles.FindByKey(ctx, strings.ToLower(strings.TrimSpace(key)))
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, apperr.New(apperr.RoleNotFound, "role not found")
	}
	return role, nil
}

// FindActiveRolesByKeys returns active roles matching keys; used by the
// permission resolver (C5).
func (r *Registry) FindActiveRolesByKeys(ctx context.Context, keys []string) ([]models.Role, error) {
	return r.roles.FindActiveByKeys(ctx, keys)
}

// FindSystemRoles returns every isSystem role.
func (r *Registry) FindSystemRoles(ctx context.Context) ([]models.Role, error) {
	return r.roles.FindSystemRoles(ctx)
}

// UpdateRole updates a role's name and status, refusing to rename the key.
func (r *Registry) UpdateRole(ctx context.Context, id, name string, status string) (*models.Role, error) {
	role, err := r.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if status == "disabled" && role.IsSystem {
		return nil, apperr.New(apperr.CannotDisableSystemRole, "system roles cannot be disabled")
	}
	if name != "" {
		role.Name = name
	}
	if status != "" {
		role.Status = status
	}
	role.UpdatedAt = time.Now()
	if err := r.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	r.invalidateRolesCache()
	return role, nil
}

// UpdatePermissions replaces a role's permissionKeys. super_admin's single
// "*" permission is immutable.
func (r *Registry) UpdatePermissions(ctx context.Context, id string, permissionKeys []string) (*models.Role, error) {
	role, err := r.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.Key == "super_admin" {
		return nil, apperr.New(apperr.CannotDisableSystemRole, "cannot modify super_admin permissions")
	}
	role.PermissionKeys = permissionKeys
	role.UpdatedAt = time.Now()
	if err := r.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	r.invalidateRolesCache()
	return role, nil
}

// DisableRole transitions a role to status=disabled.
func (r *Registry) DisableRole(ctx context.Context, id string) (*models.Role, error) {
	role, err := r.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, apperr.New(apperr.CannotDisableSystemRole, "system roles cannot be disabled")
	}
	role.Status = "disabled"
	role.UpdatedAt = time.Now()
	if err := r.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	r.invalidateRolesCache()
	return role, nil
}

// HardDeleteRole removes a role permanently; it must be disabled and
// non-system first.
func (r *Registry) HardDeleteRole(ctx context.Context, id string) error {
	role, err := r.FindRoleByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apperr.New(apperr.CannotDeleteSystemRole, "system roles cannot be deleted")
	}
	if role.Status != "disabled" {
		return apperr.New(apperr.RoleMustBeDisabled, "role must be disabled before deletion")
	}
	if err := r.roles.HardDelete(ctx, id); err != nil {
		return err
	}
	r.invalidateRolesCache()
	return nil
}

// shortID derives the deterministic embedded-permission id per spec §4.9:
// first two lowercased chars of indicator + "_" + first lowercased char of
// action.
func shortID(indicator, action string) string {
	ind := strings.ToLower(indicator)
	act := strings.ToLower(action)
	indPrefix := ind
	if len(ind) > 2 {
		indPrefix = ind[:2]
	}
	actPrefix := act
	if len(act) > 1 {
		actPrefix = act[:1]
	}
	return fmt.Sprintf("%s_%s", indPrefix, actPrefix)
}

func titleize(s string) string {
	if s == "" {
		return s
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// derivePermissions builds the embedded permissions for a module's actions,
// preserving enabled/requiresSuperAdmin flags from matching prior entries
// and collapsing duplicate actions by derived id (spec §4.9).
func derivePermissions(indicator string, actions []string, prior []models.Permission) []models.Permission {
	priorByIndicator := make(map[string]models.Permission, len(prior))
	for _, p := range prior {
		priorByIndicator[p.Indicator] = p
	}

	seen := make(map[string]bool)
	result := make([]models.Permission, 0, len(actions))
	for _, action := range actions {
		normalized := strings.ToLower(strings.TrimSpace(action))
		if normalized == "" || !actionPattern.MatchString(normalized) {
			continue
		}
		id := shortID(indicator, normalized)
		if seen[id] {
			continue
		}
		seen[id] = true

		permIndicator := fmt.Sprintf("%s.%s", indicator, normalized)
		enabled := true
		requiresSuperAdmin := false
		if existing, ok := priorByIndicator[permIndicator]; ok {
			enabled = existing.Enabled
			requiresSuperAdmin = existing.RequiresSuperAdmin
		}

		result = append(result, models.Permission{
			ID:                 id,
			Name:               titleize(normalized),
			Indicator:          permIndicator,
			Enabled:            enabled,
			RequiresSuperAdmin: requiresSuperAdmin,
		})
	}
	return result
}

// CreateModule inserts a new module, deriving its embedded permissions.
func (r *Registry) CreateModule(ctx context.Context, indicator, name, moduleType, parent string, order int, actions []string, isSystem, isNavigable bool) (*models.Module, error) {
	now := time.Now()
	module := &models.Module{
		ID:          uuid.NewString(),
		Indicator:   strings.ToLower(strings.TrimSpace(indicator)),
		Name:        name,
		Type:        moduleType,
		Parent:      parent,
		Order:       order,
		Actions:     actions,
		Permissions: derivePermissions(indicator, actions, nil),
		IsSystem:    isSystem,
		IsNavigable: isNavigable,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.modules.Create(ctx, module); err != nil {
		return nil, err
	}
	r.invalidateModulesCache()
	return module, nil
}

// FindAllModules returns every module, cached for 60s.
func (r *Registry) FindAllModules(ctx context.Context) ([]models.Module, error) {
	r.mu.Lock()
	if r.modulesCache != nil && time.Since(r.modulesCachedAt) < findAllCacheTTL {
		cached := r.modulesCache
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	modules, err := r.modules.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.modulesCache = modules
	r.modulesCachedAt = time.Now()
	r.mu.Unlock()
	return modules, nil
}

// FindModuleByID looks up a module by id.
func (r *Registry) FindModuleByID(ctx context.Context, id string) (*models.Module, error) {
	module, err := r.modules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, apperr.New(apperr.ModuleNotFound, "module not found")
	}
	return module, nil
}

// FindModuleByIndicator looks up a module by its unique indicator.
func (r *Registry) FindModuleByIndicator(ctx context.Context, indicator string) (*models.Module, error) {
	module, err := r.modules.FindByIndicator(ctx, strings.ToLower(strings.TrimSpace(indicator)))
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, apperr.New(apperr.ModuleNotFound, "module not found")
	}
	return module, nil
}

// FindSystemModules returns every isSystem module.
func (r *Registry) FindSystemModules(ctx context.Context) ([]models.Module, error) {
	return r.modules.FindSystemModules(ctx)
}

// UpdateModule updates name/actions/navigability, re-deriving permissions
// when actions change and preserving enabled/requiresSuperAdmin flags.
func (r *Registry) UpdateModule(ctx context.Context, id, name string, actions []string, isNavigable *bool) (*models.Module, error) {
	module, err := r.FindModuleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		module.Name = name
	}
	if actions != nil {
		module.Actions = actions
		module.Permissions = derivePermissions(module.Indicator, actions, module.Permissions)
	}
	if isNavigable != nil {
		module.IsNavigable = *isNavigable
	}
	module.UpdatedAt = time.Now()
	if err := r.modules.Update(ctx, module); err != nil {
		return nil, err
	}
	r.invalidateModulesCache()
	return module, nil
}

// DisableModule transitions a module to status=disabled.
func (r *Registry) DisableModule(ctx context.Context, id string) (*models.Module, error) {
	module, err := r.FindModuleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if module.IsSystem {
		return nil, apperr.New(apperr.CannotDisableSystemMod, "system modules cannot be disabled")
	}
	module.Status = "disabled"
	module.UpdatedAt = time.Now()
	if err := r.modules.Update(ctx, module); err != nil {
		return nil, err
	}
	r.invalidateModulesCache()
	return module, nil
}

// HardDeleteModule removes a module permanently.
func (r *Registry) HardDeleteModule(ctx context.Context, id string) error {
	module, err := r.FindModuleByID(ctx, id)
	if err != nil {
		return err
	}
	if module.IsSystem {
		return apperr.New(apperr.CannotDisableSystemMod, "system modules cannot be deleted")
	}
	if err := r.modules.HardDelete(ctx, id); err != nil {
		return err
	}
	r.invalidateModulesCache()
	return nil
}

// ReorderModules relocates a module among its siblings (same parent),
// rewriting order on every affected sibling so the sequence stays dense
// 0..n-1 (spec §4.9).
func (r *Registry) ReorderModules(ctx context.Context, id string, order int, parent string) error {
	module, err := r.FindModuleByID(ctx, id)
	if err != nil {
		return err
	}
	if module.Parent != parent {
		return apperr.New(apperr.ModuleNotFound, "module does not belong to the given parent")
	}

	siblings, err := r.modules.FindSiblings(ctx, parent)
	if err != nil {
		return err
	}
	if order < 0 || order >= len(siblings) {
		return apperr.New(apperr.ModuleNotFound, "order out of range for sibling set")
	}

	ordered := make([]models.Module, 0, len(siblings))
	for _, sibling := range siblings {
		if sibling.ID == id {
			continue
		}
		ordered = append(ordered, sibling)
	}
	inserted := false
	final := make([]models.Module, 0, len(siblings))
	for i := range ordered {
		if len(final) == order {
			final = append(final, *module)
			inserted = true
		}
		final = append(final, ordered[i])
	}
	if !inserted {
		final = append(final, *module)
	}

	for i := range final {
		final[i].Order = i
		final[i].UpdatedAt = time.Now()
		if err := r.modules.Update(ctx, &final[i]); err != nil {
			return err
		}
	}
	r.invalidateModulesCache()
	return nil
}
