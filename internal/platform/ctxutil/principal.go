package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

const RoleSuperAdmin = "SUPER_ADMIN"

type principalKey struct{}

// Principal is the authenticated caller attached by the auth middleware.
type Principal struct {
	UserID    uuid.UUID `json:"id"`
	Login     string    `json:"login"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	Role      string    `json:"role"`
	Roles     []string  `json:"roles"`
	Abilities []string  `json:"abilities"`
}

func (p *Principal) IsSuperAdmin() bool {
	if p == nil {
		return false
	}
	if p.Role == RoleSuperAdmin {
		return true
	}
	for _, r := range p.Roles {
		if r == RoleSuperAdmin {
			return true
		}
	}
	return false
}

// Can reports whether the principal holds ability. SUPER_ADMIN holds every ability.
func (p *Principal) Can(ability string) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	for _, a := range p.Abilities {
		if a == ability {
			return true
		}
	}
	return false
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func GetPrincipal(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return p
	}
	return nil
}

// UserIDPtr returns the principal's user id, or nil when the context is anonymous.
func UserIDPtr(ctx context.Context) *uuid.UUID {
	p := GetPrincipal(ctx)
	if p == nil || p.UserID == uuid.Nil {
		return nil
	}
	id := p.UserID
	return &id
}
