// ABOUTME: Full engine round trips run over both the mock and the SQLite store
// ABOUTME: Keeps the in-memory store honest against the one warden serve opens

package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/store"
)

var harnesses = []struct {
	name  string
	build func(t *testing.T) *harness
}{
	{"mock", newHarness},
	{"sqlite", newSQLiteHarness},
}

func TestStores_CeremonyRoundTrip(t *testing.T) {
	for _, hc := range harnesses {
		t.Run(hc.name, func(t *testing.T) {
			h := hc.build(t)
			ctx := context.Background()
			d := h.register(t, "alice@example.com", "user:read", "user:write")

			row, err := h.store.GetWebAuthnCredential(ctx, d.credentialID)
			require.NoError(t, err)
			assert.True(t, row.Registered())
			assert.False(t, row.Verified)
			assert.Nil(t, row.ChallengeHash)

			// First login goes through the verification link.
			first := h.accessToken(t, d, "user:read")
			require.Len(t, h.notifier.Sent(), 1)
			claims, err := h.engine.VerifyToken(ctx, first.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, d.userID, claims.Subject)
			assert.Equal(t, []string{"user:read"}, claims.Scope)

			row, err = h.store.GetWebAuthnCredential(ctx, d.credentialID)
			require.NoError(t, err)
			assert.True(t, row.Verified)
			assert.Equal(t, uint32(1), row.PrevCounter)

			// Verified credentials get options directly; reissue kills the old token.
			second := h.accessToken(t, d, "user:read user:write")
			assert.Len(t, h.notifier.Sent(), 1)
			assert.Equal(t, "user:read user:write", second.Scope)
			_, err = h.engine.VerifyToken(ctx, first.AccessToken)
			assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))

			// Replaying the counter fails.
			options := h.loginOptions(t, d)
			_, err = h.engine.CompleteLogin(ctx, assertion(t, h.rp, d, options), testClient)
			assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))

			// Revocation takes effect on the next verification.
			require.NoError(t, h.store.UpdateUserPrivileges(ctx, d.userID, []string{"user:read"}))
			_, err = h.engine.VerifyToken(ctx, second.AccessToken)
			require.Error(t, err)
			assert.Equal(t, "Insufficient privileges", err.Error())

			registered := store.AuditCredentialRegistered
			entries, err := h.store.ListAuditLog(ctx, store.AuditFilter{Action: &registered, TargetID: &d.credentialID})
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestStores_ClientCredentialsGrant(t *testing.T) {
	for _, hc := range harnesses {
		t.Run(hc.name, func(t *testing.T) {
			h := hc.build(t)
			ctx := context.Background()
			created, err := h.engine.CreateClient(ctx, "test", NewClient{
				ClientID:   "reporting",
				Privileges: []string{"user:read"},
			})
			require.NoError(t, err)

			resp, err := h.engine.Exchange(ctx, TokenRequest{
				GrantType:    GrantClientCredentials,
				ClientID:     "reporting",
				ClientSecret: created.Secret,
				Scope:        "user:read user:write",
			})
			require.NoError(t, err)
			assert.Equal(t, "user:read", resp.Scope)

			claims, err := h.engine.VerifyToken(ctx, resp.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, "reporting", claims.Subject)

			require.NoError(t, h.store.UpdateClientPrivileges(ctx, created.Client.ID, []string{}))
			_, err = h.engine.VerifyToken(ctx, resp.AccessToken)
			assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
		})
	}
}
