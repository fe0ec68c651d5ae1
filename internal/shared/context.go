package shared

import "context"

// Actor describes the authenticated caller as resolved from its session.
type Actor struct {
	UserID      int64
	Email       string
	RoleName    string
	Power       int
	Permissions map[string]struct{}
}

// HasPermission reports whether the actor's effective set contains name.
func (a *Actor) HasPermission(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Permissions[name]
	return ok
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context, nil when unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
