// ABOUTME: User account persistence
// ABOUTME: Privileges are stored as a JSON array of scope strings

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, name, display_name, organisation_id, privileges, created_at`

// CreateUser inserts a user, generating ID and CreatedAt if unset.
// Returns ErrConflict if the email already exists in the organisation.
func (s *SQLStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	privileges, err := encodeStrings(u.Privileges)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.Name, u.DisplayName, u.OrganisationID, privileges, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", u.ID, "organisation_id", u.OrganisationID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, optionally scoped to an organisation.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email, organisationID string) (*User, error) {
	row := s.queryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE email = ? AND (? = '' OR organisation_id = ?)
		ORDER BY created_at
		LIMIT 1
	`, email, organisationID, organisationID)
	return scanUser(row)
}

// UpdateUserPrivileges replaces the privilege set of a user.
func (s *SQLStore) UpdateUserPrivileges(ctx context.Context, id string, privileges []string) error {
	encoded, err := encodeStrings(privileges)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE users SET privileges = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return fmt.Errorf("updating user privileges: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	s.logger.Info("updated user privileges", "id", id, "privileges", privileges)
	return nil
}

// DeleteUser removes a user together with its authenticators and their token slots.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM token_credentials
		WHERE source_type = ? AND source_id IN (SELECT id FROM webauthn_credentials WHERE user_id = ?)
	`), string(CredentialTypeWebAuthn), id); err != nil {
		return fmt.Errorf("deleting token credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM webauthn_credentials WHERE user_id = ?`), id); err != nil {
		return fmt.Errorf("deleting webauthn credentials: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Info("deleted user", "id", id)
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var privileges, createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.DisplayName, &u.OrganisationID, &privileges, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if u.Privileges, err = decodeStrings(privileges); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// requireAffected maps a zero-row update or delete to ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	values := []string{}
	if data == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshaling string list: %w", err)
	}
	return values, nil
}
