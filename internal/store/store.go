// ABOUTME: Entity types and store interfaces for users and their credentials
// ABOUTME: The authentication engine depends only on these interfaces, never on SQL

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// CredentialType identifies what kind of credential owns a token credential.
type CredentialType string

const (
	CredentialTypeWebAuthn CredentialType = "WebAuthn"
	CredentialTypeClient   CredentialType = "Client"
)

// Valid reports whether t is a known credential type.
func (t CredentialType) Valid() bool {
	return t == CredentialTypeWebAuthn || t == CredentialTypeClient
}

// User is a human account. Email is unique within an organisation.
type User struct {
	ID             string
	Email          string
	Name           string
	DisplayName    string
	OrganisationID string
	Privileges     []string
	CreatedAt      time.Time
}

// WebAuthnCredential is one authenticator bound to a user.
// AuthenticatorCredentialID and PublicKey stay nil until registration completes.
type WebAuthnCredential struct {
	ID                        string
	UserID                    string
	AuthenticatorCredentialID *string // base64url (no padding) of the raw credential id
	PublicKey                 []byte  // COSE encoded
	AttestationType           string
	Transports                []string
	PrevCounter               uint32
	BackupEligible            bool
	BackupState               bool
	Challenge                 *string
	ChallengeHash             *string
	ChallengeExpires          *time.Time
	Session                   []byte // serialized ceremony session for the outstanding challenge
	Verified                  bool
	Trusted                   bool
	LastUsed                  time.Time
	LastUsedIP                string
	LastUsedUserAgent         string
	DeviceName                string
	CreatedAt                 time.Time
}

// Registered reports whether the attestation ceremony has completed.
func (c *WebAuthnCredential) Registered() bool {
	return c.AuthenticatorCredentialID != nil && len(c.PublicKey) > 0
}

// ClearChallenge drops the outstanding challenge so it cannot be reused.
func (c *WebAuthnCredential) ClearChallenge() {
	c.Challenge = nil
	c.ChallengeHash = nil
	c.ChallengeExpires = nil
	c.Session = nil
}

// ClientCredential authenticates a machine caller.
type ClientCredential struct {
	ID         string
	ClientID   string
	SecretHash string
	Name       string
	Privileges []string
	Trusted    bool
	CreatedAt  time.Time
}

// TokenCredential is the single signing slot of a credential source.
// Its ID is the jti of every token issued for that source.
type TokenCredential struct {
	ID         string
	PublicKey  string // SPKI PEM
	SourceID   string
	SourceType CredentialType
	UpdatedAt  time.Time
}

// Permission is one entry of the scope catalog.
type Permission struct {
	ID          string
	Resource    string
	Action      string
	Description string
}

// Scope returns the "resource:action" name of the permission.
func (p Permission) Scope() string {
	return p.Resource + ":" + p.Action
}

// UserStore manages user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserByEmail matches any organisation when organisationID is empty.
	GetUserByEmail(ctx context.Context, email, organisationID string) (*User, error)
	UpdateUserPrivileges(ctx context.Context, id string, privileges []string) error
	DeleteUser(ctx context.Context, id string) error
}

// WebAuthnCredentialStore manages authenticator rows.
type WebAuthnCredentialStore interface {
	CreateWebAuthnCredential(ctx context.Context, c *WebAuthnCredential) error
	GetWebAuthnCredential(ctx context.Context, id string) (*WebAuthnCredential, error)
	GetWebAuthnCredentialByChallengeHash(ctx context.Context, challengeHash string) (*WebAuthnCredential, error)
	GetWebAuthnCredentialByAuthenticatorID(ctx context.Context, authenticatorCredentialID string) (*WebAuthnCredential, error)
	ListWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error)
	UpdateWebAuthnCredential(ctx context.Context, c *WebAuthnCredential) error
}

// ClientCredentialStore manages machine credentials.
type ClientCredentialStore interface {
	CreateClientCredential(ctx context.Context, c *ClientCredential) error
	GetClientCredential(ctx context.Context, id string) (*ClientCredential, error)
	GetClientCredentialByClientID(ctx context.Context, clientID string) (*ClientCredential, error)
	UpdateClientPrivileges(ctx context.Context, id string, privileges []string) error
}

// TokenCredentialStore manages the per-source signing slots.
type TokenCredentialStore interface {
	// UpsertTokenCredential creates the slot for a source or overwrites its key.
	UpsertTokenCredential(ctx context.Context, sourceID string, sourceType CredentialType, publicKey string) (*TokenCredential, error)
	// UpdateTokenCredentialKey overwrites the key of an existing slot.
	UpdateTokenCredentialKey(ctx context.Context, id, publicKey string) (*TokenCredential, error)
	GetTokenCredential(ctx context.Context, id string) (*TokenCredential, error)
	GetTokenCredentialBySource(ctx context.Context, sourceID string, sourceType CredentialType) (*TokenCredential, error)
}

// PermissionStore manages the scope catalog.
type PermissionStore interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, p *Permission) error
}

// AuditStore records security relevant events.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// CredentialStore is everything the authentication engine persists.
type CredentialStore interface {
	UserStore
	WebAuthnCredentialStore
	ClientCredentialStore
	TokenCredentialStore
	PermissionStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}
