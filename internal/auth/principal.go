package auth

import (
	"context"
	"slices"
	"strings"

	"docgate.io/internal/ids"
)

// Principal is the acting user as supplied by the authentication layer.
type Principal struct {
	UserID      ids.UserID
	WorkspaceID string
	Roles       []string
}

// NewPrincipal constructs a principal with trimmed ids and deduplicated,
// lower-cased roles.
func NewPrincipal(userID ids.UserID, workspaceID string, roles []string) Principal {
	return Principal{
		UserID:      ids.UserID(strings.TrimSpace(string(userID))),
		WorkspaceID: strings.TrimSpace(workspaceID),
		Roles:       dedupeRoles(roles),
	}
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	return slices.Contains(p.Roles, role)
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

type principalKey struct{}

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports the principal attached by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
