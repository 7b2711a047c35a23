// ABOUTME: Persistence for per-source token signing slots
// ABOUTME: A source owns at most one slot; reissuing overwrites its public key in place

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/warden/internal/ids"
)

// UpsertTokenCredential creates the slot for a source or overwrites the key of the existing one.
// The slot ID is stable across overwrites.
func (s *SQLStore) UpsertTokenCredential(ctx context.Context, sourceID string, sourceType CredentialType, publicKey string) (*TokenCredential, error) {
	if !sourceType.Valid() {
		return nil, fmt.Errorf("invalid credential type %q", sourceType)
	}
	now := formatTime(time.Now())

	_, err := s.exec(ctx, `
		INSERT INTO token_credentials (id, public_key, source_id, source_type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_id, source_type) DO UPDATE SET
			public_key = excluded.public_key,
			updated_at = excluded.updated_at
	`, ids.New(), publicKey, sourceID, string(sourceType), now)
	if err != nil {
		return nil, fmt.Errorf("upserting token credential: %w", err)
	}

	tc, err := s.GetTokenCredentialBySource(ctx, sourceID, sourceType)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("stored token credential", "id", tc.ID, "source_id", sourceID, "source_type", sourceType)
	return tc, nil
}

// UpdateTokenCredentialKey overwrites the public key of an existing slot.
func (s *SQLStore) UpdateTokenCredentialKey(ctx context.Context, id, publicKey string) (*TokenCredential, error) {
	res, err := s.exec(ctx, `
		UPDATE token_credentials SET public_key = ?, updated_at = ? WHERE id = ?
	`, publicKey, formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("updating token credential: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetTokenCredential(ctx, id)
}

// GetTokenCredential retrieves a slot by its ID, which is the jti of the tokens it signs.
func (s *SQLStore) GetTokenCredential(ctx context.Context, id string) (*TokenCredential, error) {
	row := s.queryRow(ctx, `
		SELECT id, public_key, source_id, source_type, updated_at
		FROM token_credentials WHERE id = ?
	`, id)
	return scanTokenCredential(row)
}

// GetTokenCredentialBySource retrieves the slot owned by a credential.
func (s *SQLStore) GetTokenCredentialBySource(ctx context.Context, sourceID string, sourceType CredentialType) (*TokenCredential, error) {
	row := s.queryRow(ctx, `
		SELECT id, public_key, source_id, source_type, updated_at
		FROM token_credentials WHERE source_id = ? AND source_type = ?
	`, sourceID, string(sourceType))
	return scanTokenCredential(row)
}

func scanTokenCredential(row *sql.Row) (*TokenCredential, error) {
	var tc TokenCredential
	var sourceType, updatedAt string
	err := row.Scan(&tc.ID, &tc.PublicKey, &tc.SourceID, &sourceType, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning token credential: %w", err)
	}
	tc.SourceType = CredentialType(sourceType)
	if tc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &tc, nil
}
