package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

type contextKey string

const principalIDKey contextKey = "principalID"

// ContextWithPrincipalID returns a new context carrying the authenticated
// principal.
func ContextWithPrincipalID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalIDKey, id)
}

// PrincipalIDFromContext retrieves the authenticated principal from the
// context, if any.
func PrincipalIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	value := ctx.Value(principalIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequirePrincipal returns the authenticated principal or AccessDenied when
// the request carries none.
func RequirePrincipal(ctx context.Context) (uuid.UUID, error) {
	id, ok := PrincipalIDFromContext(ctx)
	if !ok {
		return uuid.Nil, trace.AccessDenied("request is not authenticated")
	}
	return id, nil
}
