// Package practitioner carries the authenticated practitioner through request contexts.
package practitioner

import "context"

type ctxKey string

const idKey ctxKey = "fichaclinica.practitioner_id"

// WithID stores the practitioner id in context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// IDFromContext extracts the practitioner id if present.
func IDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(idKey)
	if val == nil {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}
