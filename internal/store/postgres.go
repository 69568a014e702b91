package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements the module store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const moduleColumns = `id::text, slug, name, version, COALESCE(description, ''), COALESCE(category, ''),
	status, has_backend, has_frontend, installed_at`

func scanModule(row pgx.Row) (*Module, error) {
	var m Module
	err := row.Scan(&m.ID, &m.Slug, &m.Name, &m.Version, &m.Description, &m.Category,
		&m.Status, &m.HasBackend, &m.HasFrontend, &m.InstalledAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ModuleBySlug returns the module with the given slug, without menus.
func (s *Postgres) ModuleBySlug(ctx context.Context, slug string) (*Module, error) {
	m, err := scanModule(s.pool.QueryRow(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("module %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return m, nil
}

// ModulesByStatus returns modules whose status is in statuses, with their
// menu rows, ordered by name.
func (s *Postgres) ModulesByStatus(ctx context.Context, statuses []string) ([]Module, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE status = ANY($1) ORDER BY name`, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	index := make(map[string]int)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		index[m.ID] = len(modules)
		modules = append(modules, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	if len(modules) == 0 {
		return modules, nil
	}

	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		ids = append(ids, m.ID)
	}
	menuRows, err := s.pool.Query(ctx,
		`SELECT id::text, module_id::text, label, COALESCE(icon, ''), COALESCE(route, ''), sort_order,
		        COALESCE(permission, ''), COALESCE(parent_id::text, '')
		 FROM module_menus WHERE module_id::text = ANY($1)
		 ORDER BY sort_order, label`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list module menus: %w", err)
	}
	defer menuRows.Close()

	for menuRows.Next() {
		var r MenuRow
		if err := menuRows.Scan(&r.ID, &r.ModuleID, &r.Label, &r.Icon, &r.Route, &r.Order, &r.Permission, &r.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan module menu: %w", err)
		}
		if i, ok := index[r.ModuleID]; ok {
			modules[i].Menus = append(modules[i].Menus, r)
		}
	}
	if err := menuRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list module menus: %w", err)
	}
	return modules, nil
}

// TenantModule returns the enablement row for a tenant and module.
func (s *Postgres) TenantModule(ctx context.Context, tenantID, moduleID string) (*TenantModule, error) {
	var tm TenantModule
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id::text, module_id::text, enabled FROM tenant_modules
		 WHERE tenant_id::text = $1 AND module_id::text = $2`,
		tenantID, moduleID,
	).Scan(&tm.TenantID, &tm.ModuleID, &tm.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tenant module %s/%s: %w", tenantID, moduleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant module: %w", err)
	}
	return &tm, nil
}

// TenantModules returns module id -> enabled for every enablement row of a
// tenant.
func (s *Postgres) TenantModules(ctx context.Context, tenantID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT module_id::text, enabled FROM tenant_modules WHERE tenant_id::text = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant modules: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled bool
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan tenant module: %w", err)
		}
		out[id] = enabled
	}
	return out, rows.Err()
}

// SetTenantModule creates or updates a tenant's enablement of a module.
func (s *Postgres) SetTenantModule(ctx context.Context, tenantID, moduleID string, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_modules (tenant_id, module_id, enabled)
		 VALUES ($1::uuid, $2::uuid, $3)
		 ON CONFLICT (tenant_id, module_id)
		 DO UPDATE SET enabled = $3, updated_at = NOW()`,
		tenantID, moduleID, enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to save tenant module: %w", err)
	}
	return nil
}

// UserRole returns the role of a user.
func (s *Postgres) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id::text = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user role: %w", err)
	}
	return role, nil
}

// UpsertModule records a module discovered on disk. An existing row keeps
// its status; a new row starts as installed.
func (s *Postgres) UpsertModule(ctx context.Context, m Module) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO modules (slug, name, version, description, category, status, has_backend, has_frontend)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (slug) DO UPDATE
		 SET name = $2, version = $3, description = $4, category = $5,
		     has_backend = $7, has_frontend = $8, updated_at = NOW()`,
		m.Slug, m.Name, m.Version, m.Description, m.Category, StatusInstalled, m.HasBackend, m.HasFrontend,
	)
	if err != nil {
		return fmt.Errorf("failed to save module: %w", err)
	}
	return nil
}
