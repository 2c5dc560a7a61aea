package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athendat/classical-server-app-sub000/internal/registry"
)

// registryHandlers implements spec §6's /roles and /modules CRUD surface
// (§4.9), grounded on the teacher's resource-handler shape: decode →
// delegate to the service layer → envelope the result or error.
type registryHandlers struct {
	registry *registry.Registry
}

func newRegistryHandlers(reg *registry.Registry) *registryHandlers {
	return &registryHandlers{registry: reg}
}

type createRoleRequest struct {
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	PermissionKeys []string `json:"permissionKeys"`
}

func (h *registryHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	role, err := h.registry.CreateRole(r.Context(), req.Key, req.Name, req.PermissionKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, role)
}

func (h *registryHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.FindAllRoles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, roles)
}

func (h *registryHandlers) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.registry.FindRoleByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, role)
}

type updateRoleRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (h *registryHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	role, err := h.registry.UpdateRole(r.Context(), chi.URLParam(r, "id"), req.Name, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, role)
}

type updatePermissionsRequest struct {
	PermissionKeys []string `json:"permissionKeys"`
}

func (h *registryHandlers) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	role, err := h.registry.UpdatePermissions(r.Context(), chi.URLParam(r, "id"), req.PermissionKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, role)
}

func (h *registryHandlers) disableRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.registry.DisableRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, role)
}

func (h *registryHandlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.HardDeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusNoContent, nil)
}

type createModuleRequest struct {
	Indicator   string   `json:"indicator"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Parent      string   `json:"parent"`
	Order       int      `json:"order"`
	Actions     []string `json:"actions"`
	IsSystem    bool     `json:"isSystem"`
	IsNavigable bool     `json:"isNavigable"`
}

func (h *registryHandlers) createModule(w http.ResponseWriter, r *http.Request) {
	var req createModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	module, err := h.registry.CreateModule(r.Context(), req.Indicator, req.Name, req.Type, req.Parent, req.Order, req.Actions, req.IsSystem, req.IsNavigable)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, module)
}

func (h *registryHandlers) listModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.registry.FindAllModules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, modules)
}

func (h *registryHandlers) getModule(w http.ResponseWriter, r *http.Request) {
	module, err := h.registry.FindModuleByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, module)
}

type updateModuleRequest struct {
	Name        string   `json:"name"`
	Actions     []string `json:"actions"`
	IsNavigable *bool    `json:"isNavigable"`
}

func (h *registryHandlers) updateModule(w http.ResponseWriter, r *http.Request) {
	var req updateModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	module, err := h.registry.UpdateModule(r.Context(), chi.URLParam(r, "id"), req.Name, req.Actions, req.IsNavigable)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, module)
}

func (h *registryHandlers) disableModule(w http.ResponseWriter, r *http.Request) {
	module, err := h.registry.DisableModule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, module)
}

func (h *registryHandlers) deleteModule(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.HardDeleteModule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusNoContent, nil)
}

type reorderModuleRequest struct {
	Order  int    `json:"order"`
	Parent string `json:"parent"`
}

func (h *registryHandlers) reorderModule(w http.ResponseWriter, r *http.Request) {
	var req reorderModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	if err := h.registry.ReorderModules(r.Context(), chi.URLParam(r, "id"), req.Order, req.Parent); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, nil)
}
