// ABOUTME: Tests for the HTTP bearer authentication middleware
// ABOUTME: Uses a stub verifier to cover header parsing, rejection and scope checks

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/apierr"
)

type stubVerifier struct {
	claims *Claims
	err    error
	kinds  []TokenKind
	calls  int
}

func (s *stubVerifier) VerifyTokenKind(ctx context.Context, token string, kind TokenKind) (*Claims, error) {
	s.calls++
	s.kinds = append(s.kinds, kind)
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func accessClaims(scope ...string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ID: "tc-1"},
		Scope:            scope,
		Kind:             KindAccess,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := MustFromContext(r.Context())
		w.Header().Set("X-Subject", a.Subject)
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) apierr.Problem {
	t.Helper()
	var p apierr.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	v := &stubVerifier{claims: accessClaims("user:read")}
	h := HTTPAuthMiddleware(v)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1", nil)
	req.Header.Set("Authorization", "Bearer eyJ.token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", rec.Header().Get("X-Subject"))
	assert.Equal(t, []TokenKind{KindAccess}, v.kinds)
}

func TestHTTPAuthMiddleware_HeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
		detail string
	}{
		{name: "missing", header: "", detail: "Missing authorization header"},
		{name: "basic", header: "Basic abc", detail: "Invalid authorization header format"},
		{name: "empty", header: "Bearer ", detail: "Empty token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{claims: accessClaims()}
			h := HTTPAuthMiddleware(v)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, apierr.ContentTypeProblem, rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.detail, decodeProblem(t, rec).Detail)
			assert.Zero(t, v.calls)
		})
	}
}

func TestHTTPAuthMiddleware_VerifierRejects(t *testing.T) {
	v := &stubVerifier{err: apierr.Unauthorized("Insufficient privileges")}
	h := HTTPAuthMiddleware(v)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer eyJ.token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "Insufficient privileges", p.Detail)
	assert.Equal(t, "/x", p.Instance)
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name   string
		held   []string
		needed []string
		want   int
	}{
		{name: "holds one", held: []string{"user:write"}, needed: []string{"user:write", "user:admin"}, want: http.StatusNoContent},
		{name: "holds none", held: []string{"user:read"}, needed: []string{"user:delete", "user:admin"}, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{claims: accessClaims(tt.held...)}
			h := HTTPAuthMiddleware(v)(RequireScope(tt.needed...)(okHandler()))

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/1", nil)
			req.Header.Set("Authorization", "Bearer eyJ.token")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "Insufficient privileges", decodeProblem(t, rec).Detail)
			}
		})
	}
}

func TestRequireScope_WithoutAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireScope("user:read")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
