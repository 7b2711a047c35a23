// ABOUTME: OAuth style grant exchange for access tokens
// ABOUTME: Supports authn_token, refresh_token and client_credentials grants

package authn

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/store"
)

// Grant types accepted by Exchange.
const (
	GrantAuthnToken        = "authn_token"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// TokenRequest is the body of a token exchange. Scope is space separated.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	AuthnToken   string `json:"authn_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ParseScope splits a space separated scope string.
func ParseScope(scope string) []string {
	return strings.Fields(scope)
}

// Exchange trades a grant for an access token.
func (e *Engine) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	var (
		resp *TokenResponse
		err  error
	)
	switch req.GrantType {
	case GrantAuthnToken:
		resp, err = e.exchangeAuthnToken(ctx, req)
	case GrantRefreshToken:
		resp, err = e.exchangeRefreshToken(ctx, req)
	case GrantClientCredentials:
		resp, err = e.exchangeClientCredentials(ctx, req)
	default:
		return nil, apierr.NotImplemented("Unsupported grant type")
	}
	if err != nil {
		e.logger.Info("token exchange failed", "grant_type", req.GrantType, "error", err)
		e.audit(ctx, req.ClientID, store.AuditExchangeFailed, "grant", req.GrantType, map[string]any{"reason": err.Error()})
	}
	return resp, err
}

func (e *Engine) exchangeAuthnToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	claims, err := e.VerifyTokenKind(ctx, req.AuthnToken, auth.KindAuthn)
	if err != nil {
		return nil, err
	}
	requested := ParseScope(req.Scope)
	if len(requested) == 0 {
		requested = e.cfg.DefaultScope
	}
	return e.IssueAccessToken(ctx, claims.Subject, claims.ID, requested)
}

func (e *Engine) exchangeRefreshToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	claims, err := e.VerifyTokenKind(ctx, req.RefreshToken, auth.KindRefresh)
	if err != nil {
		return nil, err
	}
	original := make(map[string]bool, len(claims.Scope))
	for _, s := range claims.Scope {
		original[s] = true
	}
	requested := ParseScope(req.Scope)
	if len(requested) == 0 {
		requested = claims.Scope
	}
	narrowed := make([]string, 0, len(requested))
	for _, s := range requested {
		if original[s] {
			narrowed = append(narrowed, s)
		}
	}
	return e.IssueAccessToken(ctx, claims.Subject, claims.ID, narrowed)
}

func (e *Engine) exchangeClientCredentials(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	invalid := apierr.Unauthorized("Client id or client secret invalid")
	if req.ClientID == "" || req.ClientSecret == "" {
		return nil, invalid
	}
	client, err := e.store.GetClientCredentialByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid
		}
		return nil, storeError(err, "Client not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.ClientSecret)); err != nil {
		return nil, invalid
	}

	slot, err := e.store.GetTokenCredentialBySource(ctx, client.ID, store.CredentialTypeClient)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Wrap(apierr.KindDependencyFailed, "Token credential not found", err)
		}
		return nil, storeError(err, "Token credential not found")
	}
	return e.IssueAccessToken(ctx, client.ClientID, slot.ID, ParseScope(req.Scope))
}
