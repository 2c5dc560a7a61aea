package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/registry"
)

type fakeRoleRepo struct {
	byID  map[string]*models.Role
	byKey map[string]*models.Role
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{byID: map[string]*models.Role{}, byKey: map[string]*models.Role{}}
}
func (f *fakeRoleRepo) Create(ctx context.Context, r *models.Role) error {
	f.byID[r.ID] = r
	f.byKey[r.Key] = r
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
	return f.byID[id], nil
}
func (f *fakeRoleRepo) FindByKey(ctx context.Context, key string) (*models.Role, error) {
	return f.byKey[key], nil
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
func (f *fakeRoleRepo) Update(ctx context.Context, r *models.Role) error {
	f.byID[r.ID] = r
	f.byKey[r.Key] = r
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
func (f *fakeModuleRepo) Create(ctx context.Context, m *models.Module) error {
	f.byID[m.ID] = m
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
	return f.byID[id], nil
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
	return out, nil
}
func (f *fakeModuleRepo) Update(ctx context.Context, m *models.Module) error {
	f.byID[m.ID] = m
	return nil
}
func (f *fakeModuleRepo) HardDelete(ctx context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

type noopInvalidator struct{}

func (noopInvalidator) ClearAll() {}

func newTestRegistryHandlers() *registryHandlers {
	reg := registry.New(newFakeRoleRepo(), newFakeModuleRepo(), eventbus.NewInProcess(), noopInvalidator{})
	return newRegistryHandlers(reg)
}

// withURLParam attaches a chi route-param context so chi.URLParam(r, key)
// resolves without mounting a full router, matching how the teacher's
// handler tests exercise a handler function directly.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateAndGetRole(t *testing.T) {
	h := newTestRegistryHandlers()

	body, _ := json.Marshal(createRoleRequest{Key: "Support", Name: "Support", PermissionKeys: []string{"tickets.*"}})
	req := httptest.NewRequest(http.MethodPost, "/roles", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.createRole(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	data, _ := json.Marshal(created.Data)
	var role models.Role
	require.NoError(t, json.Unmarshal(data, &role))
	require.Equal(t, "support", role.Key)

	getReq := withURLParam(httptest.NewRequest(http.MethodGet, "/roles/"+role.ID, nil), "id", role.ID)
	getRec := httptest.NewRecorder()
	h.getRole(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestListRolesReturnsCreatedRoles(t *testing.T) {
	h := newTestRegistryHandlers()

	body, _ := json.Marshal(createRoleRequest{Key: "Billing", Name: "Billing", PermissionKeys: []string{"invoices.*"}})
	req := httptest.NewRequest(http.MethodPost, "/roles", bytes.NewReader(body))
	h.createRole(httptest.NewRecorder(), req)

	listReq := httptest.NewRequest(http.MethodGet, "/roles", nil)
	listRec := httptest.NewRecorder()
	h.listRoles(listRec, listReq)

	require.Equal(t, http.StatusOK, listRec.Code)
	var env envelope
	require.NoError(t, json.NewDecoder(listRec.Body).Decode(&env))
	roles, ok := env.Data.([]any)
	require.True(t, ok)
	require.Len(t, roles, 1)
}

func TestCreateModuleAndReorder(t *testing.T) {
	h := newTestRegistryHandlers()

	body, _ := json.Marshal(createModuleRequest{Indicator: "users", Name: "Users", Type: "entity", Actions: []string{"create", "read"}})
	req := httptest.NewRequest(http.MethodPost, "/modules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.createModule(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	data, _ := json.Marshal(created.Data)
	var module models.Module
	require.NoError(t, json.Unmarshal(data, &module))

	reorderBody, _ := json.Marshal(reorderModuleRequest{Order: 0, Parent: ""})
	reorderReq := withURLParam(httptest.NewRequest(http.MethodPatch, "/modules/"+module.ID+"/reorder", bytes.NewReader(reorderBody)), "id", module.ID)
	reorderRec := httptest.NewRecorder()
	h.reorderModule(reorderRec, reorderReq)
	require.Equal(t, http.StatusOK, reorderRec.Code)
}

func TestDeleteRoleRemovesIt(t *testing.T) {
	h := newTestRegistryHandlers()

	body, _ := json.Marshal(createRoleRequest{Key: "Temp", Name: "Temp", PermissionKeys: nil})
	req := httptest.NewRequest(http.MethodPost, "/roles", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.createRole(rec, req)
	var created envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	data, _ := json.Marshal(created.Data)
	var role models.Role
	require.NoError(t, json.Unmarshal(data, &role))

	disReq := withURLParam(httptest.NewRequest(http.MethodPatch, "/roles/"+role.ID+"/disable", nil), "id", role.ID)
	disRec := httptest.NewRecorder()
	h.disableRole(disRec, disReq)
	require.Equal(t, http.StatusOK, disRec.Code)

	delReq :=withURLParam(httptest.NewRequest(http.MethodDelete, "/roles/"+role.ID, nil), "id", role.ID)
	delRec := httptest.NewRecorder()
	h.deleteRole(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	getReq := withURLParam(httptest.NewRequest(http.MethodGet, "/roles/"+role.ID, nil), "id", role.ID)
	getRec := httptest.NewRecorder()
	h.getRole(getRec, getReq)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}
