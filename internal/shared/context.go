package shared

import "context"

// Roles recognised by the service. Identity itself is owned by the external
// identity provider; we only consume what its tokens carry.
const (
	RoleAdmin = "admin"
	RoleGuru  = "guru"
)

// Actor is the authenticated user on whose behalf a mutation runs.
type Actor struct {
	ID   int64
	Name string
	Role string
}

// IsAdmin reports whether the actor holds the admin role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context, or nil when unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
