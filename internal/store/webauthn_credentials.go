// ABOUTME: Persistence for WebAuthn credentials and their outstanding challenges
// ABOUTME: Public keys and ceremony sessions are stored as text for dialect portability

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/2389/warden/internal/ids"
)

const webAuthnColumns = `id, user_id, authenticator_credential_id, public_key, attestation_type, transports,
	prev_counter, backup_eligible, backup_state, challenge, challenge_hash, challenge_expires, session_data, verified, trusted,
	last_used, last_used_ip, last_used_user_agent, device_name, created_at`

// CreateWebAuthnCredential inserts a credential, generating ID and timestamps if unset.
func (s *SQLStore) CreateWebAuthnCredential(ctx context.Context, c *WebAuthnCredential) error {
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
	args, err := webAuthnArgs(c)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO webauthn_credentials (`+webAuthnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append([]any{c.ID, c.UserID}, args...)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting webauthn credential: %w", err)
	}

	s.logger.Info("created webauthn credential", "id", c.ID, "user_id", c.UserID)
	return nil
}

// GetWebAuthnCredential retrieves a credential by ID.
func (s *SQLStore) GetWebAuthnCredential(ctx context.Context, id string) (*WebAuthnCredential, error) {
	row := s.queryRow(ctx, `SELECT `+webAuthnColumns+` FROM webauthn_credentials WHERE id = ?`, id)
	return scanWebAuthnCredential(row)
}

// GetWebAuthnCredentialByChallengeHash resolves a credential from a verification link.
func (s *SQLStore) GetWebAuthnCredentialByChallengeHash(ctx context.Context, challengeHash string) (*WebAuthnCredential, error) {
	row := s.queryRow(ctx, `SELECT `+webAuthnColumns+` FROM webauthn_credentials WHERE challenge_hash = ? LIMIT 1`, challengeHash)
	return scanWebAuthnCredential(row)
}

// GetWebAuthnCredentialByAuthenticatorID resolves a credential from an assertion response.
func (s *SQLStore) GetWebAuthnCredentialByAuthenticatorID(ctx context.Context, authenticatorCredentialID string) (*WebAuthnCredential, error) {
	row := s.queryRow(ctx, `SELECT `+webAuthnColumns+` FROM webauthn_credentials WHERE authenticator_credential_id = ?`, authenticatorCredentialID)
	return scanWebAuthnCredential(row)
}

// ListWebAuthnCredentialsByUser returns every credential of a user, oldest first.
func (s *SQLStore) ListWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error) {
	rows, err := s.query(ctx, `SELECT `+webAuthnColumns+` FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying webauthn credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	creds := []*WebAuthnCredential{}
	for rows.Next() {
		c, err := scanWebAuthnCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webauthn credentials: %w", err)
	}
	return creds, nil
}

// UpdateWebAuthnCredential writes every mutable field of the credential.
func (s *SQLStore) UpdateWebAuthnCredential(ctx context.Context, c *WebAuthnCredential) error {
	args, err := webAuthnArgs(c)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE webauthn_credentials SET
			authenticator_credential_id = ?, public_key = ?, attestation_type = ?, transports = ?,
			prev_counter = ?, backup_eligible = ?, backup_state = ?, challenge = ?, challenge_hash = ?, challenge_expires = ?, session_data = ?,
			verified = ?, trusted = ?, last_used = ?, last_used_ip = ?, last_used_user_agent = ?,
			device_name = ?, created_at = ?
		WHERE id = ?
	`, append(args, c.ID)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating webauthn credential: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	s.logger.Debug("updated webauthn credential", "id", c.ID, "registered", c.Registered(), "challenged", c.Challenge != nil)
	return nil
}

// webAuthnArgs returns the column values after id and user_id, in column order.
func webAuthnArgs(c *WebAuthnCredential) ([]any, error) {
	transports, err := encodeStrings(c.Transports)
	if err != nil {
		return nil, err
	}
	var publicKey *string
	if len(c.PublicKey) > 0 {
		encoded := base64.StdEncoding.EncodeToString(c.PublicKey)
		publicKey = &encoded
	}
	var session *string
	if len(c.Session) > 0 {
		encoded := string(c.Session)
		session = &encoded
	}
	return []any{
		c.AuthenticatorCredentialID,
		publicKey,
		c.AttestationType,
		transports,
		int64(c.PrevCounter),
		boolToInt(c.BackupEligible),
		boolToInt(c.BackupState),
		c.Challenge,
		c.ChallengeHash,
		formatNullTime(c.ChallengeExpires),
		session,
		boolToInt(c.Verified),
		boolToInt(c.Trusted),
		formatTime(c.LastUsed),
		c.LastUsedIP,
		c.LastUsedUserAgent,
		c.DeviceName,
		formatTime(c.CreatedAt),
	}, nil
}

func scanWebAuthnCredential(scanner interface{ Scan(dest ...any) error }) (*WebAuthnCredential, error) {
	var c WebAuthnCredential
	var (
		authID, publicKey, challenge, challengeHash, challengeExpires, session sql.NullString
		transports, lastUsed, createdAt                                         string
		counter                                                                 int64
		verified, trusted, backupEligible, backupState                          bool
	)
	err := scanner.Scan(
		&c.ID, &c.UserID, &authID, &publicKey, &c.AttestationType, &transports,
		&counter, &backupEligible, &backupState, &challenge, &challengeHash, &challengeExpires, &session, &verified, &trusted,
		&lastUsed, &c.LastUsedIP, &c.LastUsedUserAgent, &c.DeviceName, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webauthn credential: %w", err)
	}

	c.AuthenticatorCredentialID = nullStringPtr(authID)
	c.Challenge = nullStringPtr(challenge)
	c.ChallengeHash = nullStringPtr(challengeHash)
	c.PrevCounter = uint32(counter)
	c.BackupEligible = backupEligible
	c.BackupState = backupState
	c.Verified = verified
	c.Trusted = trusted
	if publicKey.Valid {
		if c.PublicKey, err = base64.StdEncoding.DecodeString(publicKey.String); err != nil {
			return nil, fmt.Errorf("decoding public key: %w", err)
		}
	}
	if session.Valid {
		c.Session = []byte(session.String)
	}
	if c.Transports, err = decodeStrings(transports); err != nil {
		return nil, err
	}
	if c.ChallengeExpires, err = parseNullTime(challengeExpires); err != nil {
		return nil, err
	}
	if c.LastUsed, err = parseTime(lastUsed); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}
