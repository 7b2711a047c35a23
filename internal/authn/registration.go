// ABOUTME: WebAuthn registration (attestation) ceremony
// ABOUTME: NONE -> CHALLENGED on begin, CHALLENGED -> REGISTERED on a verified attestation

package authn

import (
	"context"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/store"
)

// RegistrationRequest starts a registration for the user with Email.
type RegistrationRequest struct {
	Email          string
	OrganisationID string
	Client         Client
}

// RegistrationChallenge is returned to the browser to create a credential.
type RegistrationChallenge struct {
	CredentialID string                       `json:"credentialId"`
	Options      *protocol.CredentialCreation `json:"options"`
}

// BeginRegistration creates a CHALLENGED credential row and its attestation options.
func (e *Engine) BeginRegistration(ctx context.Context, req RegistrationRequest) (*RegistrationChallenge, error) {
	user, err := e.store.GetUserByEmail(ctx, req.Email, req.OrganisationID)
	if err != nil {
		return nil, storeError(err, "User not found")
	}
	existing, err := e.store.ListWebAuthnCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, storeError(err, "User not found")
	}

	options, session, err := e.ceremony.BeginRegistration(user, existing)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to create attestation options", err)
	}

	now := e.now().UTC()
	row := &store.WebAuthnCredential{
		UserID:            user.ID,
		DeviceName:        DeviceName(req.Client.UserAgent),
		LastUsed:          now,
		LastUsedIP:        req.Client.IP,
		LastUsedUserAgent: req.Client.UserAgent,
		CreatedAt:         now,
	}
	if err := setChallenge(row, session, now.Add(e.cfg.ChallengeValidity)); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to store challenge", err)
	}
	if err := e.store.CreateWebAuthnCredential(ctx, row); err != nil {
		return nil, storeError(err, "User not found")
	}

	e.logger.Info("registration started", "user_id", user.ID, "credential_id", row.ID, "device", row.DeviceName)
	e.metrics.ObserveCeremony("registration", "challenged")
	e.audit(ctx, user.ID, store.AuditRegistrationStarted, "webauthn_credential", row.ID, map[string]any{"ip": req.Client.IP})

	return &RegistrationChallenge{CredentialID: row.ID, Options: options}, nil
}

// CompleteRegistration verifies an attestation and stores the authenticator's key.
// No token is issued; the caller logs in separately.
func (e *Engine) CompleteRegistration(ctx context.Context, credentialID string, parsed *protocol.ParsedCredentialCreationData, client Client) (*store.WebAuthnCredential, error) {
	row, err := e.store.GetWebAuthnCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Wrap(apierr.KindInternal, "Credential not found", err)
		}
		return nil, storeError(err, "Credential not found")
	}
	if row.Registered() {
		return nil, apierr.Conflict("Credential already registered")
	}
	if !hasChallenge(row) {
		return nil, apierr.DependencyFailed("Credential challenge not found")
	}
	now := e.now().UTC()
	if challengeExpired(row, now) {
		e.expireChallenge(ctx, row)
		e.metrics.ObserveCeremony("registration", "expired")
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

	cred, err := e.ceremony.FinishRegistration(user, session, parsed)
	if err != nil {
		e.logger.Warn("attestation rejected", "credential_id", row.ID, "error", err)
		e.metrics.ObserveCeremony("registration", "rejected")
		return nil, apierr.Wrap(apierr.KindUnauthorized, "Invalid attestation. error: "+err.Error(), err)
	}

	authID := EncodeCredentialID(cred.ID)
	transports := make([]string, len(cred.Transport))
	for i, t := range cred.Transport {
		transports[i] = string(t)
	}
	row.AuthenticatorCredentialID = &authID
	row.PublicKey = cred.PublicKey
	row.AttestationType = cred.AttestationType
	row.Transports = transports
	row.PrevCounter = cred.Authenticator.SignCount
	row.BackupEligible = cred.Flags.BackupEligible
	row.BackupState = cred.Flags.BackupState
	row.LastUsed = now
	row.LastUsedIP = client.IP
	row.LastUsedUserAgent = client.UserAgent
	row.ClearChallenge()

	if err := e.store.UpdateWebAuthnCredential(ctx, row); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.Wrap(apierr.KindConflict, "Authenticator already registered", err)
		}
		return nil, storeError(err, "Credential not found")
	}

	e.logger.Info("credential registered", "user_id", user.ID, "credential_id", row.ID)
	e.metrics.ObserveCeremony("registration", "registered")
	e.audit(ctx, user.ID, store.AuditCredentialRegistered, "webauthn_credential", row.ID, map[string]any{"attestation_type": row.AttestationType})
	return row, nil
}

// expireChallenge clears an expired challenge so it can never be answered.
func (e *Engine) expireChallenge(ctx context.Context, row *store.WebAuthnCredential) {
	row.ClearChallenge()
	if err := e.store.UpdateWebAuthnCredential(ctx, row); err != nil {
		e.logger.Warn("failed to clear expired challenge", "credential_id", row.ID, "error", err)
	}
}
