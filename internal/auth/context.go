// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating verified claims via context

package auth

import (
	"context"
	"slices"
)

// AuthContext holds the identity established by a verified bearer token.
// This is populated by the HTTP middleware and gRPC interceptors.
type AuthContext struct {
	Subject string    // user id or client id
	TokenID string    // jti of the verified token
	Kind    TokenKind // kind of the verified token
	Scope   []string  // scopes still backed by live privileges
}

// NewAuthContext builds an AuthContext from verified claims.
func NewAuthContext(c *Claims) *AuthContext {
	return &AuthContext{
		Subject: c.Subject,
		TokenID: c.ID,
		Kind:    c.Kind,
		Scope:   append([]string{}, c.Scope...),
	}
}

// HasScope reports whether the token grants scope.
func (a *AuthContext) HasScope(scope string) bool {
	return slices.Contains(a.Scope, scope)
}

// HasAnyScope reports whether the token grants at least one of scopes.
// An empty requirement is always satisfied.
func (a *AuthContext) HasAnyScope(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if a.HasScope(s) {
			return true
		}
	}
	return false
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
