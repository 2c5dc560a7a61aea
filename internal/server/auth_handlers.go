package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/identity"
	"github.com/athendat/classical-server-app-sub000/internal/tokens"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// authHandlers implements spec §6's /auth/login and /auth/refresh, grounded
// on the teacher's login handler shape (decode → verify credentials → sign
// → envelope) generalized onto the Token Engine (C3) and Identity Store
// (C10) instead of OIDC token exchange.
type authHandlers struct {
	users           *identity.Store
	engine          *tokens.Engine
	audience        string
	accessLifetime  time.Duration
	refreshLifetime time.Duration
}

func newAuthHandlers(users *identity.Store, engine *tokens.Engine, audience string, accessLifetime, refreshLifetime time.Duration) *authHandlers {
	return &authHandlers{
		users:           users,
		engine:          engine,
		audience:        audience,
		accessLifetime:  accessLifetime,
		refreshLifetime: refreshLifetime,
	}
}

func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeBadRequest(w, r, "username and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.users.FindByEmailRaw(ctx, req.Username)
	if err != nil || user == nil {
		writeError(w, r, apperr.New(apperr.InvalidCredentials, "invalid username or password"))
		return
	}
	if user.Status != "active" || !identity.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, r, apperr.New(apperr.InvalidCredentials, "invalid username or password"))
		return
	}

	h.issueTokens(w, r, user.ID, append([]string{user.RoleKey}, user.AdditionalRoleKeys...))
}

func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeBadRequest(w, r, "refresh_token is required")
		return
	}

	ctx := r.Context()
	claims, err := h.engine.Verify(ctx, req.RefreshToken)
	if err != nil {
		writeError(w, r, apperr.New(apperr.JWTInvalid, "invalid or expired refresh token"))
		return
	}
	if claims.Type != "refresh" {
		writeError(w, r, apperr.New(apperr.JWTInvalid, "not a refresh token"))
		return
	}

	user, err := h.users.FindByIdRaw(ctx, claims.Sub)
	if err != nil || user == nil || user.Status != "active" {
		writeError(w, r, apperr.New(apperr.InvalidCredentials, "account no longer active"))
		return
	}

	h.issueTokens(w, r, user.ID, append([]string{user.RoleKey}, user.AdditionalRoleKeys...))
}

// issueTokens signs an access/refresh pair whose scope claim is the space-
// joined role-key set (§3's JwtClaims.scope), so the Permission Guard can
// resolve permissions straight from the verified token without a second
// Identity Store round trip per request.
func (h *authHandlers) issueTokens(w http.ResponseWriter, r *http.Request, sub string, roleKeys []string) {
	ctx := r.Context()
	scope := strings.Join(roleKeys, " ")
	access, err := h.engine.Sign(ctx, tokens.SignRequest{
		Sub: sub, Aud: h.audience, Scope: scope, Lifetime: h.accessLifetime,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	refresh, err := h.engine.Sign(ctx, tokens.SignRequest{
		Sub: sub, Aud: h.audience, Scope: scope, Lifetime: h.refreshLifetime, Refresh: true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeOK(w, r, http.StatusOK, tokenResponse{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.accessLifetime.Seconds()),
		RefreshToken: refresh.Token,
	})
}
