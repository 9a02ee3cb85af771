package types

import "context"

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user identifier.
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID extracts the user identifier from the context.
func UserID(ctx context.Context) (uint, bool) {
	v, ok := ctx.Value(userIDKey{}).(uint)
	return v, ok
}
