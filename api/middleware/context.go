package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/pkg/auth"
	"github.com/angelmondragon/credits-backend/pkg/enums"
)

type principalKey struct{}

type clientIPKey struct{}

// WithPrincipal stores the authenticated identity for downstream handlers.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// WithAccount is WithPrincipal without a username, for handler tests.
func WithAccount(ctx context.Context, accountID uuid.UUID, role enums.AccountRole) context.Context {
	return WithPrincipal(ctx, auth.Principal{AccountID: accountID, Role: role})
}

// PrincipalFromContext reports false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok && p.AccountID != uuid.Nil
}

func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.AccountID, ok
}

func RoleFromContext(ctx context.Context) enums.AccountRole {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

func UsernameFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Username
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
