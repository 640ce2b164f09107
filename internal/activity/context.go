package activity

import "context"

// Actor identifies who performed an activity.
type Actor struct {
	ID   string
	Role string
}

type actorKey struct{}

// WithActor attaches the acting user to ctx. Recorder fills empty actor
// fields on Options from this value.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
