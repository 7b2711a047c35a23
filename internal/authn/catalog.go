// ABOUTME: Privilege catalog cache of grantable scopes
// ABOUTME: Loaded once from the permission store on first use; Reload re-reads it

package authn

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/warden/internal/metrics"
	"github.com/2389/warden/internal/store"
)

// Catalog caches the permission catalog keyed by "resource:action".
type Catalog struct {
	store   store.PermissionStore
	metrics *metrics.Metrics

	mu     sync.Mutex
	loaded bool
	scopes map[string]store.Permission
}

// NewCatalog creates an unloaded catalog.
func NewCatalog(st store.PermissionStore, m *metrics.Metrics) *Catalog {
	return &Catalog{store: st, metrics: m}
}

// load populates the cache on first use. Callers must hold mu.
func (c *Catalog) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	perms, err := c.store.ListPermissions(ctx)
	if err != nil {
		return fmt.Errorf("loading permission catalog: %w", err)
	}
	scopes := make(map[string]store.Permission, len(perms))
	for _, p := range perms {
		scopes[p.Scope()] = p
	}
	c.scopes = scopes
	c.loaded = true
	c.metrics.SetCatalogSize(len(scopes))
	return nil
}

// Has reports whether scope is in the catalog.
func (c *Catalog) Has(ctx context.Context, scope string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return false, err
	}
	_, ok := c.scopes[scope]
	return ok, nil
}

// Filter keeps the scopes present in the catalog, preserving order.
func (c *Catalog) Filter(ctx context.Context, scopes []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	kept := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if _, ok := c.scopes[s]; ok {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// Permissions returns a snapshot of the catalog ordered by scope.
func (c *Catalog) Permissions(ctx context.Context) ([]store.Permission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	perms := make([]store.Permission, 0, len(c.scopes))
	for _, p := range c.scopes {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Scope() < perms[j].Scope() })
	return perms, nil
}

// Reload discards the cache and reads the catalog again.
func (c *Catalog) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	return c.load(ctx)
}
