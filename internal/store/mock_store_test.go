// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLStore
// ABOUTME: Focuses on copy semantics and duplicate detection in the in-memory implementation

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReturnsCopies(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	u := createTestUser(t, s, "copy@example.com")

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	got.Privileges[0] = "user:admin"

	again, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "user:read", again.Privileges[0])
}

func TestMockStore_DuplicateDetection(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	createTestUser(t, s, "dup@example.com")

	assert.ErrorIs(t, s.CreateUser(ctx, &User{Email: "dup@example.com", OrganisationID: "org-1"}), ErrConflict)

	require.NoError(t, s.CreateClientCredential(ctx, &ClientCredential{ClientID: "svc"}))
	assert.ErrorIs(t, s.CreateClientCredential(ctx, &ClientCredential{ClientID: "svc"}), ErrConflict)
}

func TestMockStore_TokenSlotPerSource(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	first, err := s.UpsertTokenCredential(ctx, "src", CredentialTypeWebAuthn, "k1")
	require.NoError(t, err)
	second, err := s.UpsertTokenCredential(ctx, "src", CredentialTypeWebAuthn, "k2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.GetTokenCredential(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "k2", got.PublicKey)
}

func TestMockStore_DeleteUserCascades(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	u := createTestUser(t, s, "cascade@example.com")

	w := &WebAuthnCredential{UserID: u.ID}
	require.NoError(t, s.CreateWebAuthnCredential(ctx, w))
	tc, err := s.UpsertTokenCredential(ctx, w.ID, CredentialTypeWebAuthn, "k")
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetTokenCredential(ctx, tc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetWebAuthnCredential(ctx, w.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_Permissions(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertPermission(ctx, &Permission{Resource: "user", Action: "write"}))
	require.NoError(t, s.UpsertPermission(ctx, &Permission{Resource: "user", Action: "read"}))
	s.DeletePermission("user:write")

	perms, err := s.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "user:read", perms[0].Scope())
}
