// ABOUTME: HTTP middleware for bearer token authentication on API endpoints
// ABOUTME: Verifies access tokens through the engine and enforces required scopes

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/warden/internal/apierr"
)

// Verifier verifies a token of a given kind, including the live privilege re-check.
type Verifier interface {
	VerifyTokenKind(ctx context.Context, token string, kind TokenKind) (*Claims, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "Empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware requires a valid access token and adds its AuthContext to the request.
func HTTPAuthMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				apierr.WriteProblem(w, r, apierr.Unauthorized(errMsg))
				return
			}

			claims, err := verifier.VerifyTokenKind(r.Context(), token, KindAccess)
			if err != nil {
				apierr.WriteProblem(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), NewAuthContext(claims))))
		})
	}
}

// RequireScope passes when the caller holds any of scopes.
// Must be used after HTTPAuthMiddleware.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				apierr.WriteProblem(w, r, apierr.Unauthorized("Not authenticated"))
				return
			}
			if !authCtx.HasAnyScope(scopes...) {
				apierr.WriteProblem(w, r, apierr.Forbidden("Insufficient privileges"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
