package auth

import "context"

type actorKey struct{}

// ContextWithActor attaches the Actor resolved from the request's bearer
// token. Grants are copied, so later edits to actor do not change what
// Authorize sees for this request.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	actor.Permissions = cloneGrants(actor.Permissions)
	return context.WithValue(ctx, actorKey{}, &actor)
}

// ActorFromContext returns the request's Actor for Model.Authorize and
// Model.Administers. False means the request never passed authentication.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	if ctx == nil {
		return nil, false
	}
	actor, ok := ctx.Value(actorKey{}).(*Actor)
	return actor, ok && actor != nil
}
