package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the signed-in shopper or staff member behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasAnyRole reports whether the identity carries one of roles. Comparison ignores case.
func (i *Identity) HasAnyRole(roles ...string) bool {
	if i == nil {
		return false
	}
	return slices.ContainsFunc(roles, func(role string) bool {
		role = normaliseRole(role)
		return role != "" && slices.ContainsFunc(i.Roles, func(held string) bool {
			return normaliseRole(held) == role
		})
	})
}

type contextKey int

const (
	identityKey contextKey = iota
	serviceIdentityKey
)

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored by the Firebase middleware. Guests have none.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
