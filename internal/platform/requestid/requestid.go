// Package requestid generates and carries per-request correlation ids.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the id in both directions.
const Header = "X-Request-Id"

// maxLen bounds ids accepted from clients.
const maxLen = 128

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

// Sanitize returns a usable client supplied id, or "" when it must be replaced.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLen {
		return ""
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return id
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}
