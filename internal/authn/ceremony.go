// ABOUTME: WebAuthn ceremony verifier built on go-webauthn
// ABOUTME: Adapts store rows to webauthn.User and keeps the registration policy in one place

package authn

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/warden/internal/store"
)

// CeremonyConfig identifies the relying party.
type CeremonyConfig struct {
	RelyingPartyID   string
	RelyingPartyName string
	Origins          []string
	Timeout          time.Duration
}

// Ceremony runs attestation and assertion ceremonies.
type Ceremony struct {
	wa *webauthn.WebAuthn
}

// NewCeremony creates a ceremony verifier for one relying party.
func NewCeremony(cfg CeremonyConfig) (*Ceremony, error) {
	timeout := webauthn.TimeoutConfig{Timeout: cfg.Timeout, TimeoutUVD: cfg.Timeout}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RelyingPartyID,
		RPDisplayName: cfg.RelyingPartyName,
		RPOrigins:     cfg.Origins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeout,
			Registration: timeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	return &Ceremony{wa: wa}, nil
}

// webAuthnUser wraps a User and its registered credentials to implement webauthn.User.
type webAuthnUser struct {
	user  *store.User
	creds []*store.WebAuthnCredential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.user.Email
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		wc, ok := toWebAuthnCredential(c)
		if ok {
			creds = append(creds, wc)
		}
	}
	return creds
}

// toWebAuthnCredential converts a registered row; unregistered rows are skipped.
func toWebAuthnCredential(c *store.WebAuthnCredential) (webauthn.Credential, bool) {
	if !c.Registered() {
		return webauthn.Credential{}, false
	}
	rawID, err := base64.RawURLEncoding.DecodeString(*c.AuthenticatorCredentialID)
	if err != nil {
		return webauthn.Credential{}, false
	}
	transports := make([]protocol.AuthenticatorTransport, len(c.Transports))
	for i, t := range c.Transports {
		transports[i] = protocol.AuthenticatorTransport(t)
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: c.PrevCounter,
		},
	}, true
}

// EncodeCredentialID renders a raw authenticator credential id for storage.
func EncodeCredentialID(rawID []byte) string {
	return base64.RawURLEncoding.EncodeToString(rawID)
}

// BeginRegistration creates attestation options excluding the user's registered authenticators.
func (c *Ceremony) BeginRegistration(user *store.User, existing []*store.WebAuthnCredential) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	waUser := &webAuthnUser{user: user, creds: existing}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, wc := range waUser.WebAuthnCredentials() {
		exclusions = append(exclusions, wc.Descriptor())
	}

	return c.wa.BeginRegistration(waUser,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			RequireResidentKey:      protocol.ResidentKeyRequired(),
			ResidentKey:             protocol.ResidentKeyRequirementRequired,
			UserVerification:        protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		webauthn.WithCredentialParameters([]protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS512},
		}),
		webauthn.WithExclusions(exclusions),
	)
}

// FinishRegistration verifies an attestation response against the stored session.
func (c *Ceremony) FinishRegistration(user *store.User, session *webauthn.SessionData, parsed *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return c.wa.CreateCredential(&webAuthnUser{user: user}, *session, parsed)
}

// BeginLogin creates assertion options that allow only cred.
func (c *Ceremony) BeginLogin(user *store.User, cred *store.WebAuthnCredential) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	wc, ok := toWebAuthnCredential(cred)
	if !ok {
		return nil, nil, fmt.Errorf("credential %s is not registered", cred.ID)
	}
	waUser := &webAuthnUser{user: user, creds: []*store.WebAuthnCredential{cred}}
	return c.wa.BeginLogin(waUser, webauthn.WithAllowedCredentials([]protocol.CredentialDescriptor{wc.Descriptor()}))
}

// AssertionOptions rebuilds the options of an outstanding login so the
// stored challenge can be answered.
func (c *Ceremony) AssertionOptions(user *store.User, cred *store.WebAuthnCredential, session *webauthn.SessionData) (*protocol.CredentialAssertion, error) {
	options, _, err := c.BeginLogin(user, cred)
	if err != nil {
		return nil, err
	}
	challenge, err := base64.RawURLEncoding.DecodeString(session.Challenge)
	if err != nil {
		return nil, fmt.Errorf("decoding stored challenge: %w", err)
	}
	options.Response.Challenge = protocol.URLEncodedBase64(challenge)
	return options, nil
}

// FinishLogin verifies an assertion response against cred and the stored session.
func (c *Ceremony) FinishLogin(user *store.User, cred *store.WebAuthnCredential, session *webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	waUser := &webAuthnUser{user: user, creds: []*store.WebAuthnCredential{cred}}
	return c.wa.ValidateLogin(waUser, *session, parsed)
}

func encodeSession(session *webauthn.SessionData) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshaling ceremony session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling ceremony session: %w", err)
	}
	return &session, nil
}
