package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/darkden-lab/modhost/internal/auth"
	"github.com/darkden-lab/modhost/internal/contribution"
	"github.com/darkden-lab/modhost/internal/gate"
	"github.com/darkden-lab/modhost/internal/httputil"
	"github.com/darkden-lab/modhost/internal/loader"
	"github.com/darkden-lab/modhost/internal/registry"
	"github.com/darkden-lab/modhost/internal/store"
)

// Gate is the access authority the handlers consult.
type Gate interface {
	CanExecuteModule(ctx context.Context, slug, tenantID string) bool
	AvailableModules(ctx context.Context, tenantID, role string) []gate.AvailableModule
	CanManageModules(ctx context.Context, userID string) bool
	LogModuleExecution(ctx context.Context, slug, action, userID, tenantID string)
}

// Enablement switches a module on or off for a tenant.
type Enablement interface {
	ModuleBySlug(ctx context.Context, slug string) (*store.Module, error)
	SetTenantModule(ctx context.Context, tenantID, moduleID string, enabled bool) error
}

// Audit actions written by the handlers.
const (
	ActionAccess        = "module.access"
	ActionAccessDenied  = "module.access_denied"
	ActionRescan        = "module.rescan"
	ActionTenantEnable  = "module.tenant_enabled"
	ActionTenantDisable = "module.tenant_disabled"
)

// Contributions is the aggregated UI contribution payload.
type Contributions struct {
	Sidebar       []contribution.MenuItem     `json:"sidebar"`
	Dashboard     []contribution.Widget       `json:"dashboard"`
	Taskbar       []contribution.TaskbarItem  `json:"taskbar"`
	UserMenu      []contribution.UserMenuItem `json:"userMenu"`
	Notifications []contribution.Notification `json:"notifications"`
}

type Handlers struct {
	gate       Gate
	registry   *registry.Registry
	loader     *loader.Loader
	syncer     *Syncer
	enablement Enablement
	logger     *slog.Logger
}

func NewHandlers(g Gate, reg *registry.Registry, l *loader.Loader, syncer *Syncer, en Enablement, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{gate: g, registry: reg, loader: l, syncer: syncer, enablement: en, logger: logger}
}

// RegisterRoutes mounts the module API on r. r is expected to carry the
// authentication middleware.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/modules").Subrouter()
	api.HandleFunc("", h.handleList).Methods("GET")
	api.HandleFunc("/contributions", h.handleContributions).Methods("GET")
	api.HandleFunc("/pages", h.handlePages).Methods("GET")
	api.HandleFunc("/{slug}/access", h.handleAccess).Methods("GET")

	admin := api.PathPrefix("").Subrouter()
	admin.Use(h.requireManager)
	admin.HandleFunc("/catalog", h.handleCatalog).Methods("GET")
	admin.HandleFunc("/rescan", h.handleRescan).Methods("POST")
	admin.HandleFunc("/{slug}/tenants/{tenantID}", h.handleSetTenant).Methods("PUT")
}

func (h *Handlers) requireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !h.gate.CanManageModules(r.Context(), claims.UserID) {
			httputil.WriteError(w, http.StatusForbidden, "module management requires SUPER_ADMIN")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	modules := h.gate.AvailableModules(r.Context(), claims.TenantID, claims.Role)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (h *Handlers) handleContributions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	allowed := h.availableSlugs(r.Context(), claims)
	role, perms := claims.Role, claims.Permissions

	out := Contributions{
		Sidebar: onlyModules(h.registry.SidebarItems(role, perms), allowed,
			func(i contribution.MenuItem) string { return i.ModuleID }),
		Dashboard: onlyModules(h.registry.DashboardWidgets(role, perms), allowed,
			func(i contribution.Widget) string { return i.ModuleID }),
		Taskbar: onlyModules(h.registry.TaskbarItems(role, perms), allowed,
			func(i contribution.TaskbarItem) string { return i.ModuleID }),
		UserMenu: onlyModules(h.registry.UserMenuItems(role, perms), allowed,
			func(i contribution.UserMenuItem) string { return i.ModuleID }),
		Notifications: onlyModules(h.registry.Notifications(role, perms), allowed,
			func(i contribution.Notification) string { return i.ModuleID }),
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) handlePages(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	allowed := h.availableSlugs(r.Context(), claims)

	pages := []loader.Page{}
	for _, p := range h.loader.AllPages() {
		if !allowed[p.Module] {
			continue
		}
		if p.Protected && len(p.Permissions) > 0 && !intersects(p.Permissions, claims.Permissions) {
			continue
		}
		pages = append(pages, p)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (h *Handlers) handleAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	slug := mux.Vars(r)["slug"]

	allowed := h.gate.CanExecuteModule(r.Context(), slug, claims.TenantID)
	action := ActionAccess
	if !allowed {
		action = ActionAccessDenied
	}
	h.gate.LogModuleExecution(r.Context(), slug, action, claims.UserID, claims.TenantID)

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handlers) handleCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.loader.Stats())
}

func (h *Handlers) handleRescan(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	res := h.syncer.Rescan(r.Context())
	h.gate.LogModuleExecution(r.Context(), "*", ActionRescan, claims.UserID, claims.TenantID)

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"sync":  res,
		"stats": h.loader.Stats(),
	})
}

func (h *Handlers) handleSetTenant(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	vars := mux.Vars(r)
	slug := vars["slug"]
	tenant, err := uuid.Parse(vars["tenantID"])
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "tenant id must be a UUID")
		return
	}
	tenantID := tenant.String()

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		httputil.WriteError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}

	m, err := h.enablement.ModuleBySlug(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "module not found")
		return
	}
	if err != nil {
		h.logger.Error("tenant enablement: module lookup failed", "slug", slug, "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "module store unavailable")
		return
	}
	if err := h.enablement.SetTenantModule(r.Context(), tenantID, m.ID, *body.Enabled); err != nil {
		h.logger.Error("tenant enablement: save failed", "slug", slug, "tenant", tenantID, "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "module store unavailable")
		return
	}

	action := ActionTenantDisable
	if *body.Enabled {
		action = ActionTenantEnable
	}
	h.gate.LogModuleExecution(r.Context(), slug, action, claims.UserID, tenantID)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"slug": slug, "tenantId": tenantID, "enabled": *body.Enabled})
}

func (h *Handlers) availableSlugs(ctx context.Context, claims *auth.Claims) map[string]bool {
	modules := h.gate.AvailableModules(ctx, claims.TenantID, claims.Role)
	out := make(map[string]bool, len(modules))
	for _, m := range modules {
		out[m.Slug] = true
	}
	return out
}

func onlyModules[T any](items []T, allowed map[string]bool, module func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if allowed[module(item)] {
			out = append(out, item)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
