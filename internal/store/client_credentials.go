// ABOUTME: Persistence for machine client credentials
// ABOUTME: Secrets are stored only as hashes; privileges travel with the client row

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const clientColumns = `id, client_id, secret_hash, name, privileges, trusted, created_at`

// CreateClientCredential inserts a client credential. ClientID must be unique.
func (s *SQLStore) CreateClientCredential(ctx context.Context, c *ClientCredential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	privileges, err := encodeStrings(c.Privileges)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO client_credentials (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ClientID, c.SecretHash, c.Name, privileges, boolToInt(c.Trusted), formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting client credential: %w", err)
	}

	s.logger.Info("created client credential", "id", c.ID, "client_id", c.ClientID)
	return nil
}

// GetClientCredential retrieves a client by row ID.
func (s *SQLStore) GetClientCredential(ctx context.Context, id string) (*ClientCredential, error) {
	row := s.queryRow(ctx, `SELECT `+clientColumns+` FROM client_credentials WHERE id = ?`, id)
	return scanClientCredential(row)
}

// GetClientCredentialByClientID retrieves a client by its public client id.
func (s *SQLStore) GetClientCredentialByClientID(ctx context.Context, clientID string) (*ClientCredential, error) {
	row := s.queryRow(ctx, `SELECT `+clientColumns+` FROM client_credentials WHERE client_id = ?`, clientID)
	return scanClientCredential(row)
}

// UpdateClientPrivileges replaces the privilege list of a client.
func (s *SQLStore) UpdateClientPrivileges(ctx context.Context, id string, privileges []string) error {
	encoded, err := encodeStrings(privileges)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE client_credentials SET privileges = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return fmt.Errorf("updating client privileges: %w", err)
	}
	return requireAffected(res)
}

func scanClientCredential(row *sql.Row) (*ClientCredential, error) {
	var c ClientCredential
	var privileges, createdAt string
	err := row.Scan(&c.ID, &c.ClientID, &c.SecretHash, &c.Name, &privileges, &c.Trusted, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning client credential: %w", err)
	}
	if c.Privileges, err = decodeStrings(privileges); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}
