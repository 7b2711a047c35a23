// ABOUTME: Tests for token issuance, grant exchange and verification
// ABOUTME: Covers scope intersection, reissue revocation, refresh and client credentials

package authn

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/store"
)

func TestExchange_AuthnTokenDefaultScope(t *testing.T) {
	h := newHarness(t)
	d := h.register(t, "alice@example.com", "user:read")

	resp := h.accessToken(t, d, "")
	assert.Equal(t, "user:read", resp.Scope)
	assert.Empty(t, resp.RefreshToken, "untrusted credentials get no refresh token")
	assert.Equal(t, h.clock.Now().Add(DefaultTokenTTL).Unix(), resp.Expires)

	claims, err := h.engine.VerifyToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.KindAccess, claims.Kind)
	assert.Equal(t, []string{"user:read"}, claims.Scope)
	assert.Equal(t, d.userID, claims.Subject)
	assert.Equal(t, testRPID, claims.Issuer)
}

func TestExchange_ScopeIntersection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read", "user:write", "user:admin", "billing:read")
	h.mock.DeletePermission("user:admin")
	require.NoError(t, h.engine.Catalog().Reload(ctx))

	resp := h.accessToken(t, d, "user:write billing:read user:admin user:read user:write user:delete")
	// billing:read is held but not in the catalog, user:admin was removed from
	// the catalog and user:delete is not held.
	assert.Equal(t, "user:write user:read", resp.Scope)

	claims, err := h.engine.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:write", "user:read"}, claims.Scope)
}

func TestExchange_ReissueInvalidatesPreviousToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read")

	first := h.accessToken(t, d, "user:read")
	_, err := h.engine.VerifyToken(ctx, first.AccessToken)
	require.NoError(t, err)

	second := h.accessToken(t, d, "user:read")
	_, err = h.engine.VerifyToken(ctx, second.AccessToken)
	require.NoError(t, err)

	_, err = h.engine.VerifyToken(ctx, first.AccessToken)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
}

func TestExchange_AuthnTokenSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read")
	authn := h.login(t, d)

	_, err := h.engine.Exchange(ctx, TokenRequest{GrantType: GrantAuthnToken, AuthnToken: authn.AuthnToken})
	require.NoError(t, err)

	// The exchange overwrote the slot's key.
	_, err = h.engine.Exchange(ctx, TokenRequest{GrantType: GrantAuthnToken, AuthnToken: authn.AuthnToken})
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
}

func TestExchange_RefreshTokenNarrowsScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read", "user:write", "user:admin")
	trustCredential(t, h, d)

	resp := h.accessToken(t, d, "user:read user:write")
	require.NotEmpty(t, resp.RefreshToken)

	// Not valid until the access token expires.
	_, err := h.engine.Exchange(ctx, TokenRequest{GrantType: GrantRefreshToken, RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh token is not valid yet")

	h.clock.Advance(DefaultTokenTTL + time.Minute)
	refreshed, err := h.engine.Exchange(ctx, TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: resp.RefreshToken,
		Scope:        "user:admin user:write",
	})
	require.NoError(t, err)
	assert.Equal(t, "user:write", refreshed.Scope)
	assert.NotEmpty(t, refreshed.RefreshToken)
}

func TestExchange_RefreshDefaultsToOriginalScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read", "user:write")
	trustCredential(t, h, d)

	resp := h.accessToken(t, d, "user:read user:write")
	h.clock.Advance(DefaultTokenTTL)
	refreshed, err := h.engine.Exchange(ctx, TokenRequest{GrantType: GrantRefreshToken, RefreshToken: resp.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, "user:read user:write", refreshed.Scope)
}

func TestExchange_RefreshTokenExpires(t *testing.T) {
	h := newHarness(t)
	d := h.register(t, "alice@example.com", "user:read")
	trustCredential(t, h, d)

	resp := h.accessToken(t, d, "user:read")
	h.clock.Advance(DefaultRefreshTTL + time.Second)
	_, err := h.engine.Exchange(context.Background(), TokenRequest{GrantType: GrantRefreshToken, RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh token is expired")
}

func TestExchange_WrongTokenKind(t *testing.T) {
	h := newHarness(t)
	d := h.register(t, "alice@example.com", "user:read")
	resp := h.accessToken(t, d, "user:read")

	_, err := h.engine.Exchange(context.Background(), TokenRequest{GrantType: GrantAuthnToken, AuthnToken: resp.AccessToken})
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
}

func TestExchange_UnsupportedGrant(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Exchange(context.Background(), TokenRequest{GrantType: "password"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotImplemented, apierr.KindOf(err))
	assert.Equal(t, "Unsupported grant type", err.Error())
}

func TestExchange_ClientCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created, err := h.engine.CreateClient(ctx, "test", NewClient{
		ClientID:   "reporting",
		Name:       "Reporting job",
		Privileges: []string{"user:read"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.Secret)
	assert.NotEqual(t, created.Secret, created.Client.SecretHash)

	resp, err := h.engine.Exchange(ctx, TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "reporting",
		ClientSecret: created.Secret,
		Scope:        "user:read user:write",
	})
	require.NoError(t, err)
	assert.Equal(t, "user:read", resp.Scope)
	assert.Empty(t, resp.RefreshToken)

	claims, err := h.engine.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "reporting", claims.Subject)

	// No scope requested, none granted.
	resp, err = h.engine.Exchange(ctx, TokenRequest{GrantType: GrantClientCredentials, ClientID: "reporting", ClientSecret: created.Secret})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Scope)
}

func TestExchange_ClientCredentialsInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.CreateClient(ctx, "test", NewClient{ClientID: "reporting", Secret: "correct-horse"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		clientID string
		secret   string
	}{
		{"wrong secret", "reporting", "battery-staple"},
		{"unknown client", "nobody", "correct-horse"},
		{"missing secret", "reporting", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Exchange(ctx, TokenRequest{GrantType: GrantClientCredentials, ClientID: tt.clientID, ClientSecret: tt.secret})
			require.Error(t, err)
			assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
			assert.Equal(t, "Client id or client secret invalid", err.Error())
		})
	}
}

func TestExchange_ClientWithoutSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created, err := h.engine.CreateClient(ctx, "test", NewClient{ClientID: "reporting", Secret: "correct-horse"})
	require.NoError(t, err)

	// A client row created behind the engine's back has no token slot.
	orphan := *created.Client
	orphan.ID = ""
	orphan.ClientID = "orphan"
	require.NoError(t, h.store.CreateClientCredential(ctx, &orphan))

	_, err = h.engine.Exchange(ctx, TokenRequest{GrantType: GrantClientCredentials, ClientID: "orphan", ClientSecret: "correct-horse"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindDependencyFailed, apierr.KindOf(err))
}

func TestVerify_PrivilegeRevocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read", "user:write")

	resp := h.accessToken(t, d, "user:read user:write")
	_, err := h.engine.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, h.store.UpdateUserPrivileges(ctx, d.userID, []string{"user:read"}))
	_, err = h.engine.VerifyToken(ctx, resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
	assert.Equal(t, "Insufficient privileges", err.Error())
}

func TestVerify_ExpiredAccessToken(t *testing.T) {
	h := newHarness(t)
	d := h.register(t, "alice@example.com", "user:read")
	resp := h.accessToken(t, d, "user:read")

	h.clock.Advance(DefaultTokenTTL + time.Second)
	_, err := h.engine.VerifyToken(context.Background(), resp.AccessToken)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "access token is expired"))
}

func TestVerify_DeletedSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read")
	resp := h.accessToken(t, d, "user:read")

	require.NoError(t, h.engine.DeleteUser(ctx, "test", d.userID))
	_, err := h.engine.VerifyToken(ctx, resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
}

// countingStore records token slot lookups.
type countingStore struct {
	*store.MockStore
	lookups atomic.Int32
}

func (s *countingStore) GetTokenCredential(ctx context.Context, id string) (*store.TokenCredential, error) {
	s.lookups.Add(1)
	return s.MockStore.GetTokenCredential(ctx, id)
}

func TestVerify_MalformedTokenRejectedBeforeStoreAccess(t *testing.T) {
	mock := store.NewMockStore()
	counting := &countingStore{MockStore: mock}
	h := newHarnessWithStore(t, counting)

	for _, token := range []string{"", "not-a-token", "eyJhbGciOiJFUzM4NCJ9", "ey.garbage.here", "Bearer eyJ.x.y"} {
		_, err := h.engine.VerifyToken(context.Background(), token)
		require.Error(t, err, token)
		assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err), token)
	}
	assert.Equal(t, int32(0), counting.lookups.Load())
}

func TestVerify_UnknownSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read")
	authn := h.login(t, d)

	// A token signed by some other deployment with a jti we never issued.
	codec := auth.NewCodec(testRPID, time.Hour, 24*time.Hour, h.clock.Now)
	key, _, err := auth.GenerateKey()
	require.NoError(t, err)
	forged, err := codec.Sign(key, auth.KindAuthn, auth.Grant{Subject: d.userID, TokenID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"}, h.clock.Now())
	require.NoError(t, err)

	_, err = h.engine.VerifyToken(ctx, forged.Token)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Token credential not found"))

	// Same jti as a real slot, wrong key.
	genuine, err := h.engine.VerifyToken(ctx, authn.AuthnToken)
	require.NoError(t, err)
	forged, err = codec.Sign(key, auth.KindAuthn, auth.Grant{Subject: d.userID, TokenID: genuine.ID}, h.clock.Now())
	require.NoError(t, err)
	_, err = h.engine.VerifyToken(ctx, forged.Token)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
}

func trustCredential(t *testing.T, h *harness, d *device) {
	t.Helper()
	ctx := context.Background()
	row, err := h.store.GetWebAuthnCredential(ctx, d.credentialID)
	require.NoError(t, err)
	row.Trusted = true
	require.NoError(t, h.store.UpdateWebAuthnCredential(ctx, row))
}
