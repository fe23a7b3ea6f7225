package auth

import (
	"context"
	"slices"
)

type contextKey string

const principalKey contextKey = "principal"

// Roles recognised by the policy.
const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Roles  []string
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller, or the zero value when the
// request is unauthenticated.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}

func UserIDFromContext(ctx context.Context) string {
	return PrincipalFromContext(ctx).UserID
}

func RolesFromContext(ctx context.Context) []string {
	return PrincipalFromContext(ctx).Roles
}
