package middleware

import (
	"net/http"

	"github.com/athendat/classical-server-app-sub000/internal/audit"
	"github.com/athendat/classical-server-app-sub000/internal/authz"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
)

// RoleKeysLookup resolves an actor's effective role-key set just ahead of
// permission resolution. The server's router supplies a lookup that reads
// the role keys from the actor's token scope claim.
type RoleKeysLookup func(actor *reqctx.Actor) authz.ActorRoles

// Guard is the Permission Guard (C6): deny-by-default middleware requiring
// every permission in `required`. Grounded on the teacher's authz.go shape
// (classify request → resolve principal → enforce → deny with a
// structured response), generalized away from Casbin/Terraform-state
// specifics onto C5's wildcard algebra.
func Guard(resolver *authz.Resolver, roleKeys RoleKeysLookup, pipeline *audit.Pipeline, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := reqctx.GetActor(ctx)
			if actor == nil {
				writeUnauthorized(w, "no authenticated actor")
				return
			}

			view := resolver.ResolvePermissions(ctx, roleKeys(actor))
			for _, perm := range required {
				if !authz.HasPermission(view, perm) {
					if pipeline != nil {
						pipeline.LogDeny(ctx, r.Method+" "+r.URL.Path, "request", r.URL.Path,
							"missing permission "+perm, audit.Opts{Severity: audit.SeverityHigh})
					}
					writeForbidden(w, "forbidden")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
