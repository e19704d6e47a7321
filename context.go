package authcore

import "context"

type clientIPContextKey struct{}
type actorContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine records
// it on audit events; it never influences an authentication decision.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithActor attaches the id of an already authenticated caller, for
// example one resolved by middleware.Guard. It is informational only:
// admin operations take the caller explicitly and re-read it from storage.
func WithActor(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, subjectID)
}

// ActorFromContext returns the id stored by WithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(actorContextKey{}).(string)
	return id, id != ""
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
