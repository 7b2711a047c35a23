// ABOUTME: Provisioning of users, machine clients and the permission catalog
// ABOUTME: Backs the user API and the CLI; the ceremonies never create accounts

package authn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/store"
)

// DefaultPermissions is the catalog seeded by bootstrap.
var DefaultPermissions = []store.Permission{
	{Resource: "user", Action: "admin", Description: "Create, update or delete users"},
	{Resource: "user", Action: "delete", Description: "Delete users."},
	{Resource: "user", Action: "read", Description: "Read users."},
	{Resource: "user", Action: "write", Description: "Create or update users."},
}

// NewUser describes an account to create.
type NewUser struct {
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"displayName"`
	OrganisationID string   `json:"organisationId"`
	Privileges     []string `json:"privileges"`
}

// CreateUser provisions a user. actor is recorded in the audit log.
func (e *Engine) CreateUser(ctx context.Context, actor string, req NewUser) (*store.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apierr.BadRequest("A valid email is required")
	}
	if req.OrganisationID == "" {
		return nil, apierr.BadRequest("organisationId is required")
	}
	u := &store.User{
		Email:          email,
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		OrganisationID: req.OrganisationID,
		Privileges:     req.Privileges,
		CreatedAt:      e.now().UTC(),
	}
	if u.Privileges == nil {
		u.Privileges = []string{}
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.Wrap(apierr.KindConflict, "User already exists", err)
		}
		return nil, storeError(err, "User not found")
	}
	e.logger.Info("user created", "user_id", u.ID, "organisation_id", u.OrganisationID)
	e.audit(ctx, actor, store.AuditUserCreated, "user", u.ID, map[string]any{"email": u.Email})
	return u, nil
}

// GetUser returns a user by id.
func (e *Engine) GetUser(ctx context.Context, id string) (*store.User, error) {
	u, err := e.store.GetUser(ctx, id)
	if err != nil {
		return nil, storeError(err, "User not found")
	}
	return u, nil
}

// DeleteUser removes a user and, by cascade, their credentials.
func (e *Engine) DeleteUser(ctx context.Context, actor, id string) error {
	if err := e.store.DeleteUser(ctx, id); err != nil {
		return storeError(err, "User not found")
	}
	e.logger.Info("user deleted", "user_id", id)
	e.audit(ctx, actor, store.AuditUserDeleted, "user", id, nil)
	return nil
}

// NewClient describes a machine client to create. An empty Secret is generated.
type NewClient struct {
	ClientID   string
	Secret     string
	Name       string
	Privileges []string
	Trusted    bool
}

// CreatedClient carries the plaintext secret, which is never stored.
type CreatedClient struct {
	Client *store.ClientCredential
	Secret string
}

// CreateClient provisions a client credential and links its token slot.
func (e *Engine) CreateClient(ctx context.Context, actor string, req NewClient) (*CreatedClient, error) {
	if req.ClientID == "" {
		return nil, apierr.BadRequest("client id is required")
	}
	secret := req.Secret
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "Failed to generate secret", err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to hash secret", err)
	}

	client := &store.ClientCredential{
		ClientID:   req.ClientID,
		SecretHash: string(hash),
		Name:       req.Name,
		Privileges: req.Privileges,
		Trusted:    req.Trusted,
		CreatedAt:  e.now().UTC(),
	}
	if client.Privileges == nil {
		client.Privileges = []string{}
	}
	if err := e.store.CreateClientCredential(ctx, client); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.Wrap(apierr.KindConflict, "Client already exists", err)
		}
		return nil, storeError(err, "Client not found")
	}

	// The slot starts with a key nobody holds; the first exchange replaces it.
	_, pub, err := auth.GenerateKey()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Failed to generate signing key", err)
	}
	if _, err := e.store.UpsertTokenCredential(ctx, client.ID, store.CredentialTypeClient, pub); err != nil {
		return nil, storeError(err, "Client not found")
	}

	e.logger.Info("client created", "client_id", client.ClientID, "trusted", client.Trusted)
	e.audit(ctx, actor, store.AuditClientCreated, "client_credential", client.ID, map[string]any{"client_id": client.ClientID})
	return &CreatedClient{Client: client, Secret: secret}, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SeedPermissions upserts perms into the catalog and reloads it.
func (e *Engine) SeedPermissions(ctx context.Context, perms []store.Permission) error {
	for i := range perms {
		p := perms[i]
		if err := e.store.UpsertPermission(ctx, &p); err != nil {
			return apierr.Wrap(apierr.KindInternal, "Failed to seed permission "+p.Scope(), err)
		}
	}
	if err := e.catalog.Reload(ctx); err != nil {
		return apierr.Wrap(apierr.KindInternal, "Failed to reload permission catalog", err)
	}
	return nil
}
