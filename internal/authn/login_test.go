// ABOUTME: Tests for the WebAuthn login ceremony
// ABOUTME: Covers email verification, counter replay, expiry and authn token issuance

package authn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/notify"
	"github.com/2389/warden/internal/store"
)

func TestBeginLogin_UnverifiedIsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")

	lc, err := h.engine.BeginLogin(ctx, d.credentialID, testClient)
	require.NoError(t, err)
	assert.True(t, lc.Pending)
	assert.Nil(t, lc.Options)

	row, err := h.store.GetWebAuthnCredential(ctx, d.credentialID)
	require.NoError(t, err)
	require.NotNil(t, row.ChallengeHash)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.LoginAttemptSubject, sent[0].Subject)
	assert.Equal(t, []string{"alice@example.com"}, sent[0].To)
	assert.Contains(t, sent[0].Text, testOrigin+"/verify/"+*row.ChallengeHash)

	options, err := h.engine.LookupLogin(ctx, *row.ChallengeHash)
	require.NoError(t, err)
	require.Len(t, options.Response.AllowedCredentials, 1)
	assert.Equal(t, d.credential.ID, []byte(options.Response.AllowedCredentials[0].CredentialID))
	assert.Equal(t, *row.Challenge, options.Response.Challenge.String())
}

func TestBeginLogin_VerifiedReturnsOptions(t *testing.T) {
	h := newHarness(t)
	d := h.register(t, "alice@example.com")
	h.login(t, d)

	lc, err := h.engine.BeginLogin(context.Background(), d.credentialID, testClient)
	require.NoError(t, err)
	assert.False(t, lc.Pending)
	require.NotNil(t, lc.Options)
	assert.Len(t, h.notifier.Sent(), 1, "only the first login sends a verification email")
}

func TestBeginLogin_UnknownOrUnregistered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.BeginLogin(ctx, "missing", testClient)
	assert.Equal(t, apierr.KindDependencyFailed, apierr.KindOf(err))

	h.createUser(t, "bob@example.com")
	challenge, err := h.engine.BeginRegistration(ctx, RegistrationRequest{Email: "bob@example.com"})
	require.NoError(t, err)
	_, err = h.engine.BeginLogin(ctx, challenge.CredentialID, testClient)
	assert.Equal(t, apierr.KindDependencyFailed, apierr.KindOf(err))
}

func TestLookupLogin_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.LookupLogin(ctx, "no-such-hash")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	h.createUser(t, "bob@example.com")
	challenge, err := h.engine.BeginRegistration(ctx, RegistrationRequest{Email: "bob@example.com"})
	require.NoError(t, err)
	row, err := h.store.GetWebAuthnCredential(ctx, challenge.CredentialID)
	require.NoError(t, err)
	_, err = h.engine.LookupLogin(ctx, *row.ChallengeHash)
	assert.Equal(t, apierr.KindDependencyFailed, apierr.KindOf(err))
}

func TestCompleteLogin_IssuesAuthnToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com", "user:read")

	resp := h.login(t, d)
	require.NotEmpty(t, resp.AuthnToken)
	assert.Equal(t, h.clock.Now().Add(DefaultTokenTTL).Unix(), resp.Expires)

	claims, err := h.engine.VerifyTokenKind(ctx, resp.AuthnToken, auth.KindAuthn)
	require.NoError(t, err)
	assert.Equal(t, d.userID, claims.Subject)
	assert.Empty(t, claims.Scope)

	row, err := h.store.GetWebAuthnCredential(ctx, d.credentialID)
	require.NoError(t, err)
	assert.True(t, row.Verified)
	assert.Equal(t, uint32(1), row.PrevCounter)
	assert.Nil(t, row.Challenge)
	assert.Equal(t, testClient.IP, row.LastUsedIP)

	slot, err := h.store.GetTokenCredentialBySource(ctx, d.credentialID, store.CredentialTypeWebAuthn)
	require.NoError(t, err)
	assert.Equal(t, slot.ID, claims.ID)
}

func TestCompleteLogin_ReplayRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")
	h.login(t, d)

	// Same counter as the previous assertion.
	options := h.loginOptions(t, d)
	_, err := h.engine.CompleteLogin(ctx, assertion(t, h.rp, d, options), testClient)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))

	row, err := h.store.GetWebAuthnCredential(ctx, d.credentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), row.PrevCounter)

	failed := store.AuditLoginFailed
	entries, err := h.store.ListAuditLog(ctx, store.AuditFilter{Action: &failed})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCompleteLogin_ZeroCountersAllowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")

	for i := 0; i < 2; i++ {
		options := h.loginOptions(t, d)
		_, err := h.engine.CompleteLogin(ctx, assertion(t, h.rp, d, options), testClient)
		require.NoError(t, err)
	}
}

func TestCompleteLogin_ExpiredChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")

	options := h.loginOptions(t, d)
	d.credential.Counter++
	parsed := assertion(t, h.rp, d, options)

	h.clock.Advance(DefaultChallengeValidity)
	_, err := h.engine.CompleteLogin(ctx, parsed, testClient)
	require.Error(t, err)
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "Credential challenge expired.")

	// The challenge is cleared before anything else can succeed.
	_, err = h.engine.CompleteLogin(ctx, parsed, testClient)
	assert.Equal(t, apierr.KindDependencyFailed, apierr.KindOf(err))
}

func TestCompleteLogin_UnknownAuthenticator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")
	options := h.loginOptions(t, d)
	parsed := assertion(t, h.rp, d, options)
	parsed.RawID = []byte("not-a-registered-authenticator")

	_, err := h.engine.CompleteLogin(ctx, parsed, testClient)
	require.Error(t, err)
	assert.Equal(t, apierr.KindInternal, apierr.KindOf(err))
}

func TestCompleteLogin_WrongOrigin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")
	options := h.loginOptions(t, d)
	d.credential.Counter++

	rp := h.rp
	rp.Origin = "https://evil.example"
	_, err := h.engine.CompleteLogin(ctx, assertion(t, rp, d, options), testClient)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Invalid assertion"))
}

func TestLookupLogin_ExpiredChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.register(t, "alice@example.com")

	_, err := h.engine.BeginLogin(ctx, d.credentialID, testClient)
	require.NoError(t, err)
	row, err := h.store.GetWebAuthnCredential(ctx, d.credentialID)
	require.NoError(t, err)

	h.clock.Advance(DefaultChallengeValidity + time.Minute)
	_, err = h.engine.LookupLogin(ctx, *row.ChallengeHash)
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))
}
