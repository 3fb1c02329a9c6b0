package timeline

import (
	"fmt"
	"strings"
)

// Role identifies who is viewing a feed.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleClient   Role = "client"
)

// Scope is the visibility filter sent with list requests.
type Scope string

const (
	ScopePublic Scope = "public"
	ScopeAll    Scope = "all"
)

// ScopeFor maps a viewer role to the scope it may fetch. External clients are
// restricted to public entries; every other role sees all of them. The value
// only shapes the query: the server enforces the scope on its side.
func ScopeFor(role Role) Scope {
	if role == RoleClient {
		return ScopePublic
	}
	return ScopeAll
}

// Allows reports whether an entry with visibility v falls inside s.
func (s Scope) Allows(v Visibility) bool {
	if s == ScopePublic {
		return v == VisibilityPublic
	}
	return true
}

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if role == "" {
		return "", fmt.Errorf("%w: role is required", ErrValidation)
	}
	return role, nil
}

func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopePublic:
		return ScopePublic, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrValidation, raw)
	}
}
