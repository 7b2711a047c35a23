// ABOUTME: Mock CredentialStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warden/internal/ids"
)

// MockStore is an in-memory CredentialStore implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	users       map[string]*User               // keyed by user ID
	webauthn    map[string]*WebAuthnCredential // keyed by credential ID
	clients     map[string]*ClientCredential   // keyed by row ID
	tokens      map[string]*TokenCredential    // keyed by token credential ID
	permissions map[string]*Permission         // keyed by scope
	audit       []AuditEntry
}

var _ CredentialStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:       make(map[string]*User),
		webauthn:    make(map[string]*WebAuthnCredential),
		clients:     make(map[string]*ClientCredential),
		tokens:      make(map[string]*TokenCredential),
		permissions: make(map[string]*Permission),
	}
}

func copyUser(u *User) *User {
	c := *u
	c.Privileges = append([]string{}, u.Privileges...)
	return &c
}

func copyWebAuthn(w *WebAuthnCredential) *WebAuthnCredential {
	c := *w
	c.PublicKey = append([]byte(nil), w.PublicKey...)
	c.Session = append([]byte(nil), w.Session...)
	c.Transports = append([]string{}, w.Transports...)
	if w.AuthenticatorCredentialID != nil {
		v := *w.AuthenticatorCredentialID
		c.AuthenticatorCredentialID = &v
	}
	if w.Challenge != nil {
		v := *w.Challenge
		c.Challenge = &v
	}
	if w.ChallengeHash != nil {
		v := *w.ChallengeHash
		c.ChallengeHash = &v
	}
	if w.ChallengeExpires != nil {
		v := *w.ChallengeExpires
		c.ChallengeExpires = &v
	}
	return &c
}

func copyClient(cc *ClientCredential) *ClientCredential {
	c := *cc
	c.Privileges = append([]string{}, cc.Privileges...)
	return &c
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == u.Email && existing.OrganisationID == u.OrganisationID {
			return ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = copyUser(u)
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetUserByEmail retrieves the oldest user with the email, optionally within an organisation.
func (m *MockStore) GetUserByEmail(ctx context.Context, email, organisationID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *User
	for _, u := range m.users {
		if u.Email != email || (organisationID != "" && u.OrganisationID != organisationID) {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			found = u
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return copyUser(found), nil
}

// UpdateUserPrivileges replaces the privileges of a user.
func (m *MockStore) UpdateUserPrivileges(ctx context.Context, id string, privileges []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Privileges = append([]string{}, privileges...)
	return nil
}

// DeleteUser removes a user, its authenticators and their token slots.
func (m *MockStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	for wid, w := range m.webauthn {
		if w.UserID != id {
			continue
		}
		for tid, tc := range m.tokens {
			if tc.SourceType == CredentialTypeWebAuthn && tc.SourceID == wid {
				delete(m.tokens, tid)
			}
		}
		delete(m.webauthn, wid)
	}
	delete(m.users, id)
	return nil
}

// CreateWebAuthnCredential stores a new authenticator row.
func (m *MockStore) CreateWebAuthnCredential(ctx context.Context, c *WebAuthnCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.AuthenticatorCredentialID != nil && m.authenticatorTaken(*c.AuthenticatorCredentialID, "") {
		return ErrConflict
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastUsed.IsZero() {
		c.LastUsed = now
	}
	m.webauthn[c.ID] = copyWebAuthn(c)
	return nil
}

func (m *MockStore) authenticatorTaken(authID, exceptID string) bool {
	for id, w := range m.webauthn {
		if id != exceptID && w.AuthenticatorCredentialID != nil && *w.AuthenticatorCredentialID == authID {
			return true
		}
	}
	return false
}

// GetWebAuthnCredential retrieves an authenticator row by ID.
func (m *MockStore) GetWebAuthnCredential(ctx context.Context, id string) (*WebAuthnCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.webauthn[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWebAuthn(w), nil
}

// GetWebAuthnCredentialByChallengeHash retrieves the row holding a challenge hash.
func (m *MockStore) GetWebAuthnCredentialByChallengeHash(ctx context.Context, challengeHash string) (*WebAuthnCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.webauthn {
		if w.ChallengeHash != nil && *w.ChallengeHash == challengeHash {
			return copyWebAuthn(w), nil
		}
	}
	return nil, ErrNotFound
}

// GetWebAuthnCredentialByAuthenticatorID retrieves a row by authenticator credential id.
func (m *MockStore) GetWebAuthnCredentialByAuthenticatorID(ctx context.Context, authenticatorCredentialID string) (*WebAuthnCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.webauthn {
		if w.AuthenticatorCredentialID != nil && *w.AuthenticatorCredentialID == authenticatorCredentialID {
			return copyWebAuthn(w), nil
		}
	}
	return nil, ErrNotFound
}

// ListWebAuthnCredentialsByUser returns a user's authenticators, oldest first.
func (m *MockStore) ListWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*WebAuthnCredential{}
	for _, w := range m.webauthn {
		if w.UserID == userID {
			result = append(result, copyWebAuthn(w))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateWebAuthnCredential replaces an existing authenticator row.
func (m *MockStore) UpdateWebAuthnCredential(ctx context.Context, c *WebAuthnCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webauthn[c.ID]; !ok {
		return ErrNotFound
	}
	if c.AuthenticatorCredentialID != nil && m.authenticatorTaken(*c.AuthenticatorCredentialID, c.ID) {
		return ErrConflict
	}
	m.webauthn[c.ID] = copyWebAuthn(c)
	return nil
}

// CreateClientCredential stores a new client.
func (m *MockStore) CreateClientCredential(ctx context.Context, c *ClientCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.clients {
		if existing.ClientID == c.ClientID {
			return ErrConflict
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.clients[c.ID] = copyClient(c)
	return nil
}

// GetClientCredential retrieves a client by row ID.
func (m *MockStore) GetClientCredential(ctx context.Context, id string) (*ClientCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyClient(c), nil
}

// GetClientCredentialByClientID retrieves a client by its public client id.
func (m *MockStore) GetClientCredentialByClientID(ctx context.Context, clientID string) (*ClientCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.clients {
		if c.ClientID == clientID {
			return copyClient(c), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateClientPrivileges replaces the privileges of a client.
func (m *MockStore) UpdateClientPrivileges(ctx context.Context, id string, privileges []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.Privileges = append([]string{}, privileges...)
	return nil
}

// UpsertTokenCredential creates or overwrites the slot of a source.
func (m *MockStore) UpsertTokenCredential(ctx context.Context, sourceID string, sourceType CredentialType, publicKey string) (*TokenCredential, error) {
	if !sourceType.Valid() {
		return nil, fmt.Errorf("invalid credential type %q", sourceType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, tc := range m.tokens {
		if tc.SourceID == sourceID && tc.SourceType == sourceType {
			tc.PublicKey = publicKey
			tc.UpdatedAt = now
			c := *tc
			return &c, nil
		}
	}
	tc := &TokenCredential{
		ID:         ids.New(),
		PublicKey:  publicKey,
		SourceID:   sourceID,
		SourceType: sourceType,
		UpdatedAt:  now,
	}
	m.tokens[tc.ID] = tc
	c := *tc
	return &c, nil
}

// UpdateTokenCredentialKey overwrites the key of an existing slot.
func (m *MockStore) UpdateTokenCredentialKey(ctx context.Context, id, publicKey string) (*TokenCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	tc.PublicKey = publicKey
	tc.UpdatedAt = time.Now().UTC()
	c := *tc
	return &c, nil
}

// GetTokenCredential retrieves a slot by ID.
func (m *MockStore) GetTokenCredential(ctx context.Context, id string) (*TokenCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tc, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *tc
	return &c, nil
}

// GetTokenCredentialBySource retrieves the slot owned by a credential.
func (m *MockStore) GetTokenCredentialBySource(ctx context.Context, sourceID string, sourceType CredentialType) (*TokenCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tc := range m.tokens {
		if tc.SourceID == sourceID && tc.SourceType == sourceType {
			c := *tc
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListPermissions returns the catalog ordered by resource and action.
func (m *MockStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perms := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		perms = append(perms, *p)
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
	return perms, nil
}

// UpsertPermission inserts a permission or refreshes its description.
func (m *MockStore) UpsertPermission(ctx context.Context, p *Permission) error {
	if p.Resource == "" || p.Action == "" {
		return fmt.Errorf("permission requires resource and action")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.permissions[p.Scope()]; ok {
		existing.Description = p.Description
		p.ID = existing.ID
		return nil
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	c := *p
	m.permissions[p.Scope()] = &c
	return nil
}

// DeletePermission removes a scope from the catalog. Only the mock supports this.
func (m *MockStore) DeletePermission(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.permissions, scope)
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if auditMatches(e, f) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func auditMatches(e AuditEntry, f AuditFilter) bool {
	switch {
	case f.Since != nil && e.Timestamp.Before(*f.Since):
		return false
	case f.Until != nil && e.Timestamp.After(*f.Until):
		return false
	case f.ActorID != nil && e.ActorID != *f.ActorID:
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	case f.TargetType != nil && e.TargetType != *f.TargetType:
		return false
	case f.TargetID != nil && e.TargetID != *f.TargetID:
		return false
	}
	return true
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
