package auth

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Roles []string
}

// HasRole reports whether the principal carries role. Admins carry every role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// Roles understood by the API.
const (
	RoleAdmin   = "admin"
	RoleSolver  = "solver"
	RoleAuditor = "auditor"
)

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// Actor returns the principal's id and roles, for loggers that must not
// depend on this package's types.
func Actor(ctx context.Context) (string, []string, bool) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", nil, false
	}
	return p.ID, p.Roles, true
}
