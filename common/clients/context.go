package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// RequesterIDKey is the context key for the requester on whose behalf work runs
	RequesterIDKey contextKey = "requester-id"
)

// WithRequesterID adds a requester ID to the context
func WithRequesterID(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, RequesterIDKey, requesterID)
}

// GetRequesterID retrieves the requester ID from context
// Returns the ID and true if found, empty string and false otherwise
func GetRequesterID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequesterIDKey).(string)
	return id, ok && id != ""
}
