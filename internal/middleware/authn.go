// Package middleware implements the bearer-JWT/x-api-key authentication
// guard and the Permission Guard (C6), adapted from the teacher's
// internal/middleware/authn.go and authz.go shape (resolve principal from
// the request → attach to context → enforce), generalized away from its
// Terraform-state/Casbin specifics.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
	"github.com/athendat/classical-server-app-sub000/internal/tokens"
)

// TokenVerifier is the narrow slice of tokens.Engine the middleware needs.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*tokens.Claims, error)
}

// publicPaths lists the routes exempt from both the bearer-JWT and
// x-api-key guards (spec §6).
var publicPaths = map[string]bool{
	"/":             true,
	"/health":       true,
	"/metrics":      true,
	"/auth/login":   true,
	"/auth/refresh": true,
}

// IsPublicPath reports whether path is exempt from authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// APIKey enforces the x-api-key header guard on every non-public path.
func APIKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if expected == "" || r.Header.Get("x-api-key") != expected {
				writeForbidden(w, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate verifies the bearer JWT via verifier and attaches a
// reqctx.Actor + requestId to the request context for downstream handlers,
// the Permission Guard, and the audit pipeline.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenString, ok := bearerToken(header)
			if !ok {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := verifier.Verify(r.Context(), tokenString)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			actorKind := reqctx.ActorKindUser
			if strings.HasPrefix(claims.Sub, "service:") {
				actorKind = reqctx.ActorKindService
			}
			actor := &reqctx.Actor{
				Kind:      actorKind,
				ID:        claims.Sub,
				Sub:       claims.Sub,
				Scopes:    strings.Fields(claims.Scope),
				IPAddress: clientIP(r),
			}

			values := reqctx.Values{
				RequestID: requestID(r),
				Actor:     actor,
				HTTP: reqctx.HTTPMetadata{
					Method:  r.Method,
					Path:    r.URL.Path,
					Query:   r.URL.Query(),
					Headers: r.Header,
				},
			}

			ctx := reqctx.WithValues(r.Context(), values)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("x-request-id"); id != "" {
		return id
	}
	return reqctx.GetRequestID(r.Context())
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusForbidden, message)
}

func writeEnvelope(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":false,"statusCode":` + strconv.Itoa(status) + `,"errors":"` + message + `"}`))
}
