// Package gate is the server-side authority on module access: whether a
// module may run for a tenant, which of its menus a role may see, and who may
// manage modules. Every store failure denies.
package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/darkden-lab/modhost/internal/audit"
	"github.com/darkden-lab/modhost/internal/auth"
	"github.com/darkden-lab/modhost/internal/store"
)

// Store is the persisted state the gate consults.
type Store interface {
	ModuleBySlug(ctx context.Context, slug string) (*store.Module, error)
	ModulesByStatus(ctx context.Context, statuses []string) ([]store.Module, error)
	TenantModule(ctx context.Context, tenantID, moduleID string) (*store.TenantModule, error)
	TenantModules(ctx context.Context, tenantID string) (map[string]bool, error)
	UserRole(ctx context.Context, userID string) (string, error)
}

// AuditSink receives module execution records.
type AuditSink interface {
	Record(ctx context.Context, e audit.Event) error
}

// Policy holds the access rules that are data rather than code.
type Policy struct {
	// ForcedPermissions maps a module slug to a permission applied to every
	// node of its menu tree before role filtering.
	ForcedPermissions map[string]string
}

// DefaultPolicy forces the integrations module to admin-only menus.
func DefaultPolicy() Policy {
	return Policy{ForcedPermissions: map[string]string{"integrations": "integrations:admin"}}
}

// AvailableModule is a module as presented to a caller.
type AvailableModule struct {
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Enabled     bool        `json:"enabled"`
	Menus       []*MenuNode `json:"menus"`
	HasBackend  bool        `json:"hasBackend"`
	HasFrontend bool        `json:"hasFrontend"`
}

var listedStatuses = []string{store.StatusActive, store.StatusInstalled, store.StatusDBReady}

type Gate struct {
	store  Store
	audit  AuditSink
	policy Policy
	logger *slog.Logger
}

// New creates a Gate. sink may be nil, in which case executions are only
// logged.
func New(s Store, sink AuditSink, policy Policy, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: s, audit: sink, policy: policy, logger: logger}
}

// CanExecuteModule reports whether the module exists, is active and, when
// tenantID is set, is enabled for that tenant.
func (g *Gate) CanExecuteModule(ctx context.Context, slug, tenantID string) bool {
	m, err := g.store.ModuleBySlug(ctx, slug)
	if err != nil {
		reason := "store error"
		if errors.Is(err, store.ErrNotFound) {
			reason = "module not found"
		}
		g.deny(slug, tenantID, reason, err)
		return false
	}
	if m.Status != store.StatusActive {
		g.deny(slug, tenantID, "module status is "+m.Status, nil)
		return false
	}
	if tenantID == "" {
		return true
	}

	tm, err := g.store.TenantModule(ctx, tenantID, m.ID)
	if err != nil {
		reason := "store error"
		if errors.Is(err, store.ErrNotFound) {
			reason = "module not enabled for tenant"
		}
		g.deny(slug, tenantID, reason, err)
		return false
	}
	if !tm.Enabled {
		g.deny(slug, tenantID, "module disabled for tenant", nil)
		return false
	}
	return true
}

func (g *Gate) deny(slug, tenantID, reason string, err error) {
	attrs := []any{"slug", slug, "tenant", tenantID, "reason", reason}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	g.logger.Warn("module execution denied", attrs...)
}

// AvailableModules returns the modules a caller with role may see in tenant,
// with their menus filtered for role. Any store error yields an empty list.
// Only a super admin may list without a tenant; that view skips enablement.
func (g *Gate) AvailableModules(ctx context.Context, tenantID, role string) []AvailableModule {
	out := []AvailableModule{}
	if tenantID == "" && role != auth.RoleSuperAdmin {
		g.logger.Warn("available modules: caller has no tenant", "role", role)
		return out
	}

	modules, err := g.store.ModulesByStatus(ctx, listedStatuses)
	if err != nil {
		g.logger.Error("available modules: list failed", "tenant", tenantID, "error", err)
		return out
	}

	var enabled map[string]bool
	if tenantID != "" {
		enabled, err = g.store.TenantModules(ctx, tenantID)
		if err != nil {
			g.logger.Error("available modules: tenant lookup failed", "tenant", tenantID, "error", err)
			return out
		}
	}

	for _, m := range modules {
		if tenantID != "" && !enabled[m.ID] {
			continue
		}

		menus := BuildMenuTree(m.Menus)
		if perm, ok := g.policy.ForcedPermissions[m.Slug]; ok {
			forcePermission(menus, perm)
		}
		menus = filterMenus(menus, role)
		if len(m.Menus) > 0 && len(menus) == 0 {
			continue
		}

		out = append(out, AvailableModule{
			Slug:        m.Slug,
			Name:        m.Name,
			Description: m.Description,
			Version:     m.Version,
			Enabled:     m.Status == store.StatusActive,
			Menus:       menus,
			HasBackend:  m.HasBackend,
			HasFrontend: m.HasFrontend,
		})
	}
	return out
}

// CanManageModules reports whether the user is a super admin.
func (g *Gate) CanManageModules(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	role, err := g.store.UserRole(ctx, userID)
	if err != nil {
		g.logger.Warn("module management check failed", "user", userID, "error", err)
		return false
	}
	return role == auth.RoleSuperAdmin
}

// LogModuleExecution records an audit event for slug. Failures are logged
// and never returned.
func (g *Gate) LogModuleExecution(ctx context.Context, slug, action, userID, tenantID string) {
	if g.audit == nil {
		g.logger.Info("module execution", "slug", slug, "action", action, "user", userID, "tenant", tenantID)
		return
	}
	err := g.audit.Record(ctx, audit.Event{
		Action:   action,
		UserID:   userID,
		TenantID: tenantID,
		Details:  map[string]any{"slug": slug},
	})
	if err != nil {
		g.logger.Warn("failed to write module audit log", "slug", slug, "action", action, "error", err)
	}
}
