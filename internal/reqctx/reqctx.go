// Package reqctx propagates per-request cross-cutting values — request id,
// authenticated actor, and captured HTTP metadata — across the asynchronous
// boundaries of a single request's lifetime. It is never used to pass
// business inputs between functions.
package reqctx

import "context"

// ActorKind distinguishes the two kinds of authenticated principal the
// trust core recognizes.
type ActorKind string

const (
	ActorKindUser    ActorKind = "user"
	ActorKindService ActorKind = "service"
)

// Actor is the tagged union described in spec §3: a kind, an invariable id
// (e.g. a kid or a stable user id — never a mutable login name), plus
// optional claims carried forward from the verified token.
type Actor struct {
	Kind      ActorKind
	ID        string
	Sub       string
	Scopes    []string
	IPAddress string
}

// HTTPMetadata is the subset of an inbound request the audit pipeline and
// permission guard need without holding onto the live *http.Request.
type HTTPMetadata struct {
	Method  string
	Path    string
	Query   map[string][]string
	Headers map[string][]string
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
	httpMetaKey
)

// Values are the inputs bound at the start of a request's processing via Run.
type Values struct {
	RequestID string
	Actor     *Actor
	HTTP      HTTPMetadata
}

// Run establishes ctx with the given Values bound, then invokes fn with the
// derived context. Any goroutine spawned from within fn that carries this
// context forward observes the same bound values — ordinary
// context.Context value propagation, scoped to this package's typed keys.
func Run(ctx context.Context, values Values, fn func(context.Context)) {
	fn(WithValues(ctx, values))
}

// WithValues returns a derived context with the given Values bound. Prefer
// Run for new call sites; WithValues exists for middleware that must thread
// the context through a framework-owned call rather than a callback.
func WithValues(ctx context.Context, values Values) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, values.RequestID)
	ctx = context.WithValue(ctx, httpMetaKey, values.HTTP)
	if values.Actor != nil {
		ctx = context.WithValue(ctx, actorKey, values.Actor)
	}
	return ctx
}

// WithActor returns a derived context with actor attached, preserving
// whatever request id / HTTP metadata were already bound.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetRequestID returns the request id bound by Run, or "" if none was bound.
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GetActor returns the actor bound by Run/WithActor, or nil if none was bound.
func GetActor(ctx context.Context) *Actor {
	v, _ := ctx.Value(actorKey).(*Actor)
	return v
}

// GetActorID returns the bound actor's invariable id, or "" if no actor is bound.
func GetActorID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.ID
	}
	return ""
}

// GetHTTPMetadata returns the HTTP metadata bound by Run, or the zero value.
func GetHTTPMetadata(ctx context.Context) HTTPMetadata {
	v, _ := ctx.Value(httpMetaKey).(HTTPMetadata)
	return v
}
