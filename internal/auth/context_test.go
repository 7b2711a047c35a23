// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests scope matching and context propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthContext_HasAnyScope(t *testing.T) {
	a := &AuthContext{Subject: "u", Scope: []string{"user:read"}}

	tests := []struct {
		name   string
		scopes []string
		want   bool
	}{
		{name: "no requirement", scopes: nil, want: true},
		{name: "exact match", scopes: []string{"user:read"}, want: true},
		{name: "one of several", scopes: []string{"user:admin", "user:read"}, want: true},
		{name: "none held", scopes: []string{"user:write", "user:admin"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.HasAnyScope(tt.scopes...); got != tt.want {
				t.Errorf("HasAnyScope(%v) = %v, want %v", tt.scopes, got, tt.want)
			}
		})
	}
}

func TestNewAuthContext(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ID: "tc-1"},
		Scope:            []string{"user:read"},
		Kind:             KindAccess,
	}
	a := NewAuthContext(claims)
	claims.Scope[0] = "user:admin"

	if a.Subject != "user-1" || a.TokenID != "tc-1" || a.Kind != KindAccess {
		t.Errorf("unexpected auth context %+v", a)
	}
	if !a.HasScope("user:read") {
		t.Error("scope should be copied from claims")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("FromContext() on empty context should be nil")
	}

	a := &AuthContext{Subject: "u"}
	ctx := WithAuth(context.Background(), a)
	if FromContext(ctx) != a {
		t.Error("FromContext() should return the attached AuthContext")
	}
	if MustFromContext(ctx) != a {
		t.Error("MustFromContext() should return the attached AuthContext")
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() should panic without AuthContext")
		}
	}()
	MustFromContext(context.Background())
}
