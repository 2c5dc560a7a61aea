package registry

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/db/models"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
)

type fakeRoleRepo struct {
	byID map[string]*models.Role
	byKey map[string]*models.Role
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{byID: map[string]*models.Role{}, byKey: map[string]*models.Role{}}
}

func (f *fakeRoleRepo) Create(ctx context.Context, role *models.Role) error {
	f.byID[role.ID] = role
	f.byKey[role.Key] = role
	return nil
}
func (f *fakeRoleRepo) FindAll(ctx context.Context) ([]models.Role, error) {
	var out []models.Role
	for _, r := range f.byID {
		out = append(out, *r)
	}
	return out, nil
}
func (f *fakeRoleRepo) FindByID(ctx context.Context, id string) (*models.Role, error) {
	if r, ok := f.byID[id]; ok {
		return r, nil
	}
	return nil, nil
}
func (f *fakeRoleRepo) FindByKey(ctx context.Context, key string) (*models.Role, error) {
	if r, ok := f.byKey[key]; ok {
		return r, nil
	}
	return nil, nil
}
func (f *fakeRoleRepo) FindActiveByKeys(ctx context.Context, keys []string) ([]models.Role, error) {
	var out []models.Role
	for _, k := range keys {
		if r, ok := f.byKey[k]; ok && r.Status == "active" {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (f *fakeRoleRepo) FindSystemRoles(ctx context.Context) ([]models.Role, error) {
	var out []models.Role
	for _, r := range f.byID {
		if r.IsSystem {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (f *fakeRoleRepo) Update(ctx context.Context, role *models.Role) error {
	f.byID[role.ID] = role
	f.byKey[role.Key] = role
	return nil
}
func (f *fakeRoleRepo) HardDelete(ctx context.Context, id string) error {
	if r, ok := f.byID[id]; ok {
		delete(f.byKey, r.Key)
	}
	delete(f.byID, id)
	return nil
}

type fakeModuleRepo struct {
	byID map[string]*models.Module
}

func newFakeModuleRepo() *fakeModuleRepo {
	return &fakeModuleRepo{byID: map[string]*models.Module{}}
}

func (f *fakeModuleRepo) Create(ctx context.Context, module *models.Module) error {
	f.byID[module.ID] = module
	return nil
}
func (f *fakeModuleRepo) FindAll(ctx context.Context) ([]models.Module, error) {
	var out []models.Module
	for _, m := range f.byID {
		out = append(out, *m)
	}
	return out, nil
}
func (f *fakeModuleRepo) FindByID(ctx context.Context, id string) (*models.Module, error) {
	if m, ok := f.byID[id]; ok {
		return m, nil
	}
	return nil, nil
}
func (f *fakeModuleRepo) FindByIndicator(ctx context.Context, indicator string) (*models.Module, error) {
	for _, m := range f.byID {
		if m.Indicator == indicator {
			return m, nil
		}
	}
	return nil, nil
}
func (f *fakeModuleRepo) FindSystemModules(ctx context.Context) ([]models.Module, error) {
	var out []models.Module
	for _, m := range f.byID {
		if m.IsSystem {
			out = append(out, *m)
		}
	}
	return out, nil
}
func (f *fakeModuleRepo) FindSiblings(ctx context.Context, parent string) ([]models.Module, error) {
	var out []models.Module
	for _, m := range f.byID {
		if m.Parent == parent {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}
func (f *fakeModuleRepo) Update(ctx context.Context, module *models.Module) error {
	f.byID[module.ID] = module
	return nil
}
func (f *fakeModuleRepo) HardDelete(ctx context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) ClearAll() { c.calls++ }

func newTestRegistry() (*Registry, *fakeRoleRepo, *fakeModuleRepo, *countingInvalidator) {
	roles := newFakeRoleRepo()
	modules := newFakeModuleRepo()
	invalidator := &countingInvalidator{}
	reg := New(roles, modules, eventbus.NewInProcess(), invalidator)
	return reg, roles, modules, invalidator
}

func TestCreateRoleInvalidatesCacheAndAuthz(t *testing.T) {
	reg, _, _, invalidator := newTestRegistry()
	role, err := reg.CreateRole(context.Background(), "Support", "Support", []string{"tickets.*"})
	require.NoError(t, err)
	assert.Equal(t, "support", role.Key)
	assert.Equal(t, 1, invalidator.calls)
}

func TestCannotDisableSystemRole(t *testing.T) {
	reg, roles, _, _ := newTestRegistry()
	sys := &models.Role{ID: "r1", Key: "super_admin", IsSystem: true, Status: "active"}
	roles.byID["r1"] = sys
	roles.byKey["super_admin"] = sys

	_, err := reg.DisableRole(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, apperr.As(err, apperr.CannotDisableSystemRole))
}

func TestCannotModifySuperAdminPermissions(t *testing.T) {
	reg, roles, _, _ := newTestRegistry()
	sys := &models.Role{ID: "r1", Key: "super_admin", IsSystem: true, Status: "active", PermissionKeys: []string{"*"}}
	roles.byID["r1"] = sys
	roles.byKey["super_admin"] = sys

	_, err := reg.UpdatePermissions(context.Background(), "r1", []string{"orders.*"})
	require.Error(t, err)
}

func TestHardDeleteRequiresDisabledNonSystem(t *testing.T) {
	reg, roles, _, _ := newTestRegistry()
	active := &models.Role{ID: "r2", Key: "merchant", IsSystem: false, Status: "active"}
	roles.byID["r2"] = active
	roles.byKey["merchant"] = active

	err := reg.HardDeleteRole(context.Background(), "r2")
	require.Error(t, err)
	assert.True(t, apperr.As(err, apperr.RoleMustBeDisabled))

	_, err = reg.DisableRole(context.Background(), "r2")
	require.NoError(t, err)
	err = reg.HardDeleteRole(context.Background(), "r2")
	assert.NoError(t, err)
}

func TestDerivePermissionsPreservesFlagsAndCollapsesDuplicates(t *testing.T) {
	prior := []models.Permission{
		{ID: "or_r", Name: "Read", Indicator: "orders.read", Enabled: false, RequiresSuperAdmin: true},
	}
	perms := derivePermissions("orders", []string{"read", "Read", "write"}, prior)
	require.Len(t, perms, 2)

	var read, write models.Permission
	for _, p := range perms {
		switch p.Indicator {
		case "orders.read":
			read = p
		case "orders.write":
			write = p
		}
	}
	assert.False(t, read.Enabled)
	assert.True(t, read.RequiresSuperAdmin)
	assert.True(t, write.Enabled)
	assert.False(t, write.RequiresSuperAdmin)
	assert.Equal(t, "or_r", read.ID)
	assert.Equal(t, "or_w", write.ID)
}

func TestReorderModulesProducesDenseSequence(t *testing.T) {
	reg, _, modules, _ := newTestRegistry()
	m1 := &models.Module{ID: "m1", Indicator: "a", Parent: "root", Order: 0}
	m2 := &models.Module{ID: "m2", Indicator: "b", Parent: "root", Order: 1}
	m3 := &models.Module{ID: "m3", Indicator: "c", Parent: "root", Order: 2}
	modules.byID["m1"] = m1
	modules.byID["m2"] = m2
	modules.byID["m3"] = m3

	err := reg.ReorderModules(context.Background(), "m3", 0, "root")
	require.NoError(t, err)

	assert.Equal(t, 0, modules.byID["m3"].Order)
	orders := map[int]bool{modules.byID["m1"].Order: true, modules.byID["m2"].Order: true}
	assert.True(t, orders[1] || orders[2])
}

func TestReorderModulesRejectsOutOfRangeOrder(t *testing.T) {
	reg, _, modules, _ := newTestRegistry()
	modules.byID["m1"] = &models.Module{ID: "m1", Indicator: "a", Parent: "root", Order: 0}

	err := reg.ReorderModules(context.Background(), "m1", 5, "root")
	require.Error(t, err)
}
