// ABOUTME: Token issuance with a fresh signing key per token
// ABOUTME: Reissuing overwrites the source's key, invalidating every earlier token

package authn

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/store"
)

// TokenResponse is returned by a successful exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	Expires      int64  `json:"expires"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// source is the credential a token slot belongs to, resolved live.
type source struct {
	ID         string
	Type       store.CredentialType
	Privileges []string
	Trusted    bool
}

// IssueAuthnToken signs an authn token for a WebAuthn credential, creating
// or overwriting its token slot.
func (e *Engine) IssueAuthnToken(ctx context.Context, subject, webAuthnCredentialID string) (*auth.SignedToken, error) {
	key, pub, err := auth.GenerateKey()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to generate signing key", err)
	}
	slot, err := e.store.UpsertTokenCredential(ctx, webAuthnCredentialID, store.CredentialTypeWebAuthn, pub)
	if err != nil {
		return nil, storeError(err, "Credential not found.")
	}

	signed, err := e.codec.Sign(key, auth.KindAuthn, auth.Grant{Subject: subject, TokenID: slot.ID}, e.now())
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to sign token", err)
	}
	e.metrics.ObserveTokenIssued(auth.KindAuthn.String())
	e.audit(ctx, subject, store.AuditTokenIssued, "token_credential", slot.ID, map[string]any{"kind": auth.KindAuthn.String()})
	return signed, nil
}

// IssueAccessToken overwrites the slot's key and signs an access token for
// requested ∩ source privileges ∩ catalog. Trusted sources also receive a
// refresh token signed with the same key.
func (e *Engine) IssueAccessToken(ctx context.Context, subject, tokenCredentialID string, requested []string) (*TokenResponse, error) {
	slot, err := e.store.GetTokenCredential(ctx, tokenCredentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Wrap(apierr.KindUnauthorized, "Token credential not found", err)
		}
		return nil, storeError(err, "Token credential not found")
	}
	src, err := e.resolveSource(ctx, slot)
	if err != nil {
		return nil, err
	}

	scope, err := e.grantable(ctx, requested, src.Privileges)
	if err != nil {
		return nil, err
	}

	key, pub, err := auth.GenerateKey()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to generate signing key", err)
	}
	if _, err := e.store.UpdateTokenCredentialKey(ctx, slot.ID, pub); err != nil {
		return nil, storeError(err, "Token credential not found")
	}

	grant := auth.Grant{Subject: subject, TokenID: slot.ID, Scope: scope}
	issuedAt := e.now()
	access, err := e.codec.Sign(key, auth.KindAccess, grant, issuedAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to sign token", err)
	}
	resp := &TokenResponse{
		AccessToken: access.Token,
		Expires:     access.Expires.Unix(),
		Scope:       strings.Join(scope, " "),
	}
	e.metrics.ObserveTokenIssued(auth.KindAccess.String())

	if src.Trusted {
		refresh, err := e.codec.Sign(key, auth.KindRefresh, grant, issuedAt)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "Failed to sign token", err)
		}
		resp.RefreshToken = refresh.Token
		e.metrics.ObserveTokenIssued(auth.KindRefresh.String())
	}

	e.audit(ctx, subject, store.AuditTokenIssued, "token_credential", slot.ID, map[string]any{
		"kind":    auth.KindAccess.String(),
		"scope":   scope,
		"refresh": src.Trusted,
	})
	return resp, nil
}

// resolveSource loads the credential behind a token slot and its owner's
// current privileges.
func (e *Engine) resolveSource(ctx context.Context, slot *store.TokenCredential) (*source, error) {
	src := &source{ID: slot.SourceID, Type: slot.SourceType}
	switch slot.SourceType {
	case store.CredentialTypeWebAuthn:
		cred, err := e.store.GetWebAuthnCredential(ctx, slot.SourceID)
		if err != nil {
			return nil, sourceError(err)
		}
		user, err := e.store.GetUser(ctx, cred.UserID)
		if err != nil {
			return nil, sourceError(err)
		}
		src.Privileges = user.Privileges
		src.Trusted = cred.Trusted
	case store.CredentialTypeClient:
		client, err := e.store.GetClientCredential(ctx, slot.SourceID)
		if err != nil {
			return nil, sourceError(err)
		}
		src.Privileges = client.Privileges
		src.Trusted = client.Trusted
	default:
		return nil, apierr.Internal("Unknown credential type")
	}
	return src, nil
}

func sourceError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apierr.Wrap(apierr.KindUnauthorized, "Credential not found.", err)
	}
	return storeError(err, "Credential not found.")
}

// grantable intersects requested with privileges and the catalog, keeping
// the request order and dropping duplicates.
func (e *Engine) grantable(ctx context.Context, requested, privileges []string) ([]string, error) {
	held := make(map[string]bool, len(privileges))
	for _, p := range privileges {
		held[p] = true
	}
	seen := make(map[string]bool, len(requested))
	wanted := make([]string, 0, len(requested))
	for _, s := range requested {
		if s == "" || seen[s] || !held[s] {
			continue
		}
		seen[s] = true
		wanted = append(wanted, s)
	}
	scope, err := e.catalog.Filter(ctx, wanted)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to load permission catalog", err)
	}
	return scope, nil
}
