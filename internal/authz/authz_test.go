package authz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRoleSource struct {
	roles map[string]Role
	err   error
}

func (f *fakeRoleSource) FindActiveByKeys(_ context.Context, keys []string) ([]Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Role
	for _, k := range keys {
		if r, ok := f.roles[k]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestResolvePermissionsClassifiesWildcardsAndExact(t *testing.T) {
	source := &fakeRoleSource{roles: map[string]Role{
		"security_officer": {Key: "security_officer", Status: "active", PermissionKeys: []string{"Roles.*", " cards.read "}},
	}}
	resolver := New(source, nil, time.Minute, 100)

	view := resolver.ResolvePermissions(context.Background(), ActorRoles{ActorType: "user", ActorID: "u1", RoleKeys: []string{"security_officer"}})

	require.False(t, view.HasGlobalWildcard)
	_, hasModuleWildcard := view.ModuleWildcards["roles.*"]
	require.True(t, hasModuleWildcard)
	_, hasExact := view.ExactPermissions["cards.read"]
	require.True(t, hasExact)
}

func TestHasPermissionGlobalWildcard(t *testing.T) {
	view := emptyView()
	view.HasGlobalWildcard = true
	require.True(t, HasPermission(view, "anything.at.all"))
}

func TestHasPermissionModuleWildcard(t *testing.T) {
	view := emptyView()
	view.ModuleWildcards["roles.*"] = struct{}{}
	require.True(t, HasPermission(view, "Roles.Delete"))
	require.False(t, HasPermission(view, "cards.read"))
}

func TestHasPermissionExact(t *testing.T) {
	view := emptyView()
	view.ExactPermissions["cards.read"] = struct{}{}
	require.True(t, HasPermission(view, "cards.read"))
	require.False(t, HasPermission(view, "cards.write"))
}

func TestResolvePermissionsFailsClosedOnError(t *testing.T) {
	source := &fakeRoleSource{err: fmt.Errorf("db down")}
	resolver := New(source, nil, time.Minute, 100)

	view := resolver.ResolvePermissions(context.Background(), ActorRoles{ActorType: "user", ActorID: "u1", RoleKeys: []string{"admin"}})
	require.False(t, view.HasGlobalWildcard)
	require.Empty(t, view.ExactPermissions)
	require.Empty(t, view.ModuleWildcards)
}

func TestResolvePermissionsCachesByActor(t *testing.T) {
	calls := 0
	source := &countingRoleSource{calls: &calls, base: &fakeRoleSource{roles: map[string]Role{
		"admin": {Key: "admin", Status: "active", PermissionKeys: []string{"*"}},
	}}}
	resolver := New(source, nil, time.Minute, 100)

	actor := ActorRoles{ActorType: "user", ActorID: "u1", RoleKeys: []string{"admin"}}
	resolver.ResolvePermissions(context.Background(), actor)
	resolver.ResolvePermissions(context.Background(), actor)

	require.Equal(t, 1, calls)
}

type countingRoleSource struct {
	calls *int
	base  *fakeRoleSource
}

func (c *countingRoleSource) FindActiveByKeys(ctx context.Context, keys []string) ([]Role, error) {
	*c.calls++
	return c.base.FindActiveByKeys(ctx, keys)
}

func TestInvalidateDropsCachedEntry(t *testing.T) {
	calls := 0
	source := &countingRoleSource{calls: &calls, base: &fakeRoleSource{roles: map[string]Role{
		"admin": {Key: "admin", Status: "active", PermissionKeys: []string{"*"}},
	}}}
	resolver := New(source, nil, time.Minute, 100)
	actor := ActorRoles{ActorType: "user", ActorID: "u1", RoleKeys: []string{"admin"}}

	resolver.ResolvePermissions(context.Background(), actor)
	resolver.Invalidate("user", "u1")
	resolver.ResolvePermissions(context.Background(), actor)

	require.Equal(t, 2, calls)
}

func TestValidateRoleCombination(t *testing.T) {
	cases := []struct {
		name       string
		role       string
		additional []string
		wantValid  bool
	}{
		{"super_admin alone", "super_admin", nil, true},
		{"super_admin with extra", "super_admin", []string{"user"}, false},
		{"user with merchant", "user", []string{"merchant"}, true},
		{"user with ops and admin", "user", []string{"ops", "admin"}, true},
		{"user with unknown", "user", []string{"finance"}, false},
		{"merchant with user", "merchant", []string{"user"}, true},
		{"merchant with admin", "merchant", []string{"admin"}, false},
		{"additional super_admin rejected", "user", []string{"super_admin"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			valid, errMsg := ValidateRoleCombination(tc.role, tc.additional)
			require.Equal(t, tc.wantValid, valid, errMsg)
		})
	}
}
