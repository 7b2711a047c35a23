// ABOUTME: Persistence for the permission catalog
// ABOUTME: Permissions are keyed by (resource, action); upserts refresh the description

package store

import (
	"context"
	"fmt"

	"github.com/2389/warden/internal/ids"
)

// ListPermissions returns the whole catalog ordered by scope name.
func (s *SQLStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.query(ctx, `
		SELECT id, resource, action, description
		FROM permissions ORDER BY resource, action
	`)
	if err != nil {
		return nil, fmt.Errorf("querying permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permissions: %w", err)
	}
	return perms, nil
}

// UpsertPermission inserts a permission or updates the description of an existing one.
func (s *SQLStore) UpsertPermission(ctx context.Context, p *Permission) error {
	if p.Resource == "" || p.Action == "" {
		return fmt.Errorf("permission requires resource and action")
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.exec(ctx, `
		INSERT INTO permissions (id, resource, action, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource, action) DO UPDATE SET description = excluded.description
	`, p.ID, p.Resource, p.Action, p.Description)
	if err != nil {
		return fmt.Errorf("upserting permission: %w", err)
	}
	return nil
}
