// ABOUTME: WebAuthn login (assertion) ceremony
// ABOUTME: Unverified credentials are confirmed by email before their first assertion

package authn

import (
	"context"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/notify"
	"github.com/2389/warden/internal/store"
)

// LoginChallenge is the result of BeginLogin. Options is nil while Pending.
type LoginChallenge struct {
	Pending bool
	Options *protocol.CredentialAssertion
}

// AuthnTokenResponse is returned by a completed login.
type AuthnTokenResponse struct {
	AuthnToken string `json:"authn_token"`
	Expires    int64  `json:"expires"`
}

// LookupLogin returns the assertion options of the outstanding challenge
// identified by its hash, as followed from a verification link.
func (e *Engine) LookupLogin(ctx context.Context, challengeHash string) (*protocol.CredentialAssertion, error) {
	row, err := e.store.GetWebAuthnCredentialByChallengeHash(ctx, challengeHash)
	if err != nil {
		return nil, storeError(err, "Credential not found.")
	}
	if !row.Registered() {
		return nil, apierr.DependencyFailed("Authenticator credential id not found.")
	}
	if !hasChallenge(row) {
		return nil, apierr.DependencyFailed("Credential challenge not found.")
	}
	if challengeExpired(row, e.now()) {
		e.expireChallenge(ctx, row)
		return nil, apierr.Forbidden("Credential challenge expired.")
	}

	user, err := e.store.GetUser(ctx, row.UserID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Credential owner not found", err)
	}
	session, err := decodeSession(row.Session)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Corrupt ceremony session", err)
	}
	options, err := e.ceremony.AssertionOptions(user, row, session)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to create assertion options", err)
	}
	return options, nil
}

// BeginLogin writes a fresh challenge for credentialID. Unverified
// credentials get a verification email and a pending result instead of options.
func (e *Engine) BeginLogin(ctx context.Context, credentialID string, client Client) (*LoginChallenge, error) {
	row, err := e.store.GetWebAuthnCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Wrap(apierr.KindDependencyFailed, "Credential not found.", err)
		}
		return nil, storeError(err, "Credential not found.")
	}
	if !row.Registered() {
		return nil, apierr.DependencyFailed("Authenticator credential id not found.")
	}
	user, err := e.store.GetUser(ctx, row.UserID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Credential owner not found", err)
	}

	options, session, err := e.ceremony.BeginLogin(user, row)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to create assertion options", err)
	}
	now := e.now().UTC()
	if err := setChallenge(row, session, now.Add(e.cfg.ChallengeValidity)); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to store challenge", err)
	}
	if err := e.store.UpdateWebAuthnCredential(ctx, row); err != nil {
		return nil, storeError(err, "Credential not found.")
	}

	e.metrics.ObserveCeremony("login", "challenged")
	e.audit(ctx, user.ID, store.AuditLoginChallenged, "webauthn_credential", row.ID, map[string]any{
		"ip":       client.IP,
		"verified": row.Verified,
	})

	if row.Verified {
		return &LoginChallenge{Options: options}, nil
	}

	if err := e.sendVerification(ctx, user, row); err != nil {
		e.logger.Error("failed to send verification message", "credential_id", row.ID, "error", err)
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to send verification message", err)
	}
	e.metrics.ObserveCeremony("login", "pending")
	e.audit(ctx, user.ID, store.AuditVerificationSent, "webauthn_credential", row.ID, nil)
	return &LoginChallenge{Pending: true}, nil
}

func (e *Engine) sendVerification(ctx context.Context, user *store.User, row *store.WebAuthnCredential) error {
	msg, err := notify.VerificationMessage(notify.Verification{
		To:           user.Email,
		Link:         strings.TrimRight(e.cfg.VerificationURL, "/") + "/" + *row.ChallengeHash,
		RelyingParty: e.cfg.RelyingPartyName,
		DeviceName:   row.DeviceName,
		Validity:     e.cfg.ChallengeValidity,
	})
	if err != nil {
		return err
	}
	return e.notifier.Send(ctx, msg)
}

// CompleteLogin verifies an assertion and issues an authn token.
func (e *Engine) CompleteLogin(ctx context.Context, parsed *protocol.ParsedCredentialAssertionData, client Client) (*AuthnTokenResponse, error) {
	if parsed == nil {
		return nil, apierr.BadRequest("Missing assertion")
	}
	authID := EncodeCredentialID(parsed.RawID)
	row, err := e.store.GetWebAuthnCredentialByAuthenticatorID(ctx, authID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Wrap(apierr.KindInternal, "Credential not found.", err)
		}
		return nil, storeError(err, "Credential not found.")
	}
	if !hasChallenge(row) {
		return nil, apierr.DependencyFailed("Credential challenge not found.")
	}
	if len(row.PublicKey) == 0 {
		return nil, apierr.DependencyFailed("Public key not found.")
	}
	now := e.now().UTC()
	if challengeExpired(row, now) {
		e.expireChallenge(ctx, row)
		e.metrics.ObserveCeremony("login", "expired")
		return nil, apierr.Forbidden("Credential challenge expired.")
	}

	user, err := e.store.GetUser(ctx, row.UserID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Credential owner not found", err)
	}
	session, err := decodeSession(row.Session)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Corrupt ceremony session", err)
	}

	cred, err := e.ceremony.FinishLogin(user, row, session, parsed)
	if err != nil {
		return nil, e.loginFailed(ctx, user.ID, row.ID, "Invalid assertion", err)
	}
	counter := parsed.Response.AuthenticatorData.Counter
	if !counterAdvanced(row.PrevCounter, counter) || cred.Authenticator.CloneWarning {
		return nil, e.loginFailed(ctx, user.ID, row.ID, "Invalid assertion", errors.New("signature counter did not increase"))
	}

	row.PrevCounter = counter
	row.BackupState = parsed.Response.AuthenticatorData.Flags.HasBackupState()
	row.LastUsed = now
	row.LastUsedIP = client.IP
	row.LastUsedUserAgent = client.UserAgent
	row.Verified = true
	row.ClearChallenge()
	if err := e.store.UpdateWebAuthnCredential(ctx, row); err != nil {
		return nil, storeError(err, "Credential not found.")
	}

	e.metrics.ObserveCeremony("login", "verified")
	e.audit(ctx, user.ID, store.AuditLoginSucceeded, "webauthn_credential", row.ID, map[string]any{"ip": client.IP})

	signed, err := e.IssueAuthnToken(ctx, user.ID, row.ID)
	if err != nil {
		return nil, err
	}
	return &AuthnTokenResponse{AuthnToken: signed.Token, Expires: signed.Expires.Unix()}, nil
}

// loginFailed records a rejected assertion. The challenge stays in place
// until it expires or a new login begins.
func (e *Engine) loginFailed(ctx context.Context, userID, credentialID, message string, cause error) error {
	e.logger.Warn("assertion rejected", "credential_id", credentialID, "error", cause)
	e.metrics.ObserveCeremony("login", "rejected")
	e.audit(ctx, userID, store.AuditLoginFailed, "webauthn_credential", credentialID, map[string]any{"reason": cause.Error()})
	return apierr.Wrap(apierr.KindUnauthorized, message, cause)
}
