// Package identity resolves the acting principal of a request.
package identity

import "context"

// Role names a user's access level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleContador Role = "contador"
	RoleAuxiliar Role = "auxiliar"
	RoleAbogado  Role = "abogado"
	RoleCliente  Role = "cliente"
)

// Principal is the authenticated actor of a request.
type Principal struct {
	UserID string
	Role   Role
}

// HasAnyRole reports whether the principal holds one of roles.
func (p *Principal) HasAnyRole(roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
