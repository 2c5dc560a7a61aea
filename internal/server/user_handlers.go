package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athendat/classical-server-app-sub000/internal/identity"
)

// userHandlers implements spec §6's /users surface (§4.10).
type userHandlers struct {
	users *identity.Store
}

func newUserHandlers(users *identity.Store) *userHandlers {
	return &userHandlers{users: users}
}

type createUserRequest struct {
	Email              string   `json:"email"`
	Phone              string   `json:"phone"`
	IDNumber           string   `json:"idNumber"`
	Fullname           string   `json:"fullname"`
	Password           string   `json:"password"`
	RoleKey            string   `json:"roleKey"`
	AdditionalRoleKeys []string `json:"additionalRoleKeys"`
}

func (h *userHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	user, err := h.users.Create(r.Context(), req.Email, req.Phone, req.IDNumber, req.Fullname, req.Password, req.RoleKey, req.AdditionalRoleKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, user)
}

func (h *userHandlers) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, users)
}

func (h *userHandlers) get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, user)
}

type updateRolesRequest struct {
	RoleKey            string   `json:"roleKey"`
	AdditionalRoleKeys []string `json:"additionalRoleKeys"`
}

func (h *userHandlers) updateRoles(w http.ResponseWriter, r *http.Request) {
	var req updateRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	user, err := h.users.UpdateRoles(r.Context(), chi.URLParam(r, "id"), req.RoleKey, req.AdditionalRoleKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, user)
}

type updatePasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (h *userHandlers) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := decodeJSON(r, &req); err != nil || req.NewPassword == "" {
		writeBadRequest(w, r, "newPassword is required")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), chi.URLParam(r, "id"), req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, nil)
}

func (h *userHandlers) disable(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, user)
}
