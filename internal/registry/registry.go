// Package registry keeps the catalogue of module contributions and answers
// role-filtered aggregation queries over it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/darkden-lab/modhost/internal/contribution"
)

// ErrInvalidContribution is returned by Register for a contribution without
// an id or name.
var ErrInvalidContribution = errors.New("invalid module contribution")

// Registry maps module id to its contribution. One instance is created at
// process start and shared by the API handlers.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]contribution.ModuleContribution
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		modules: make(map[string]contribution.ModuleContribution),
		logger:  logger,
	}
}

// Register stores c under its id, replacing any earlier registration.
func (r *Registry) Register(c contribution.ModuleContribution) error {
	if c.ID == "" {
		r.logger.Warn("rejected module contribution without id", "name", c.Name)
		return fmt.Errorf("%w: missing id", ErrInvalidContribution)
	}
	if c.Name == "" {
		r.logger.Warn("rejected module contribution without name", "module", c.ID)
		return fmt.Errorf("%w: module %q missing name", ErrInvalidContribution, c.ID)
	}

	c = clone(c)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.modules[c.ID]
	r.modules[c.ID] = c
	r.logger.Debug("module contribution registered", "module", c.ID, "version", c.Version, "replaced", replaced)
	return nil
}

// Unregister removes the contribution for id, if any.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, id)
}

// IsRegistered reports whether id has a contribution.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[id]
	return ok
}

// Contribution returns the contribution registered for id.
func (r *Registry) Contribution(id string) (contribution.ModuleContribution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.modules[id]
	if !ok {
		return contribution.ModuleContribution{}, false
	}
	return clone(c), true
}

// All returns every registered contribution ordered by id.
func (r *Registry) All() []contribution.ModuleContribution {
	snap := r.snapshot()
	out := make([]contribution.ModuleContribution, 0, len(snap))
	for _, c := range snap {
		out = append(out, clone(c))
	}
	return out
}

// IDs returns the registered module ids in ascending order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops every registration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = make(map[string]contribution.ModuleContribution)
}

// snapshot copies the current contributions, ordered by id, so aggregation
// never holds the lock while filtering.
func (r *Registry) snapshot() []contribution.ModuleContribution {
	r.mu.RLock()
	out := make([]contribution.ModuleContribution, 0, len(r.modules))
	for _, c := range r.modules {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(c contribution.ModuleContribution) contribution.ModuleContribution {
	c.Sidebar = slices.Clone(c.Sidebar)
	c.Dashboard = slices.Clone(c.Dashboard)
	c.Taskbar = slices.Clone(c.Taskbar)
	c.UserMenu = slices.Clone(c.UserMenu)
	c.Notifications = slices.Clone(c.Notifications)
	return c
}
