// Package discovery feeds the registry from the loader and the module store,
// and serves the module discovery API.
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/darkden-lab/modhost/internal/contribution"
	"github.com/darkden-lab/modhost/internal/events"
	"github.com/darkden-lab/modhost/internal/loader"
	"github.com/darkden-lab/modhost/internal/registry"
	"github.com/darkden-lab/modhost/internal/store"
)

// ModuleSource lists persisted modules for fallback contributions.
type ModuleSource interface {
	ModulesByStatus(ctx context.Context, statuses []string) ([]store.Module, error)
}

// ModuleWriter records modules found on disk.
type ModuleWriter interface {
	UpsertModule(ctx context.Context, m store.Module) error
}

// SyncResult lists what a Sync changed in the registry.
type SyncResult struct {
	Registered []string `json:"registered"`
	Fallbacks  []string `json:"fallbacks"`
	Removed    []string `json:"removed"`
	Rejected   []string `json:"rejected,omitempty"`
}

// Syncer keeps the registry in line with the loader catalogue. It only
// unregisters modules it registered itself.
type Syncer struct {
	registry *registry.Registry
	loader   *loader.Loader
	source   ModuleSource
	writer   ModuleWriter
	broker   events.Broker
	after    func(SyncResult)
	logger   *slog.Logger

	mu    sync.Mutex
	owned map[string]bool
}

type SyncerOption func(*Syncer)

// WithModuleSource registers fallback contributions for active persisted
// modules that have no directory on disk.
func WithModuleSource(src ModuleSource) SyncerOption {
	return func(s *Syncer) { s.source = src }
}

// WithModuleWriter persists every valid module found on disk.
func WithModuleWriter(w ModuleWriter) SyncerOption {
	return func(s *Syncer) { s.writer = w }
}

// WithBroker publishes registry changes on events.TopicModuleDiscovery.
func WithBroker(b events.Broker) SyncerOption {
	return func(s *Syncer) { s.broker = b }
}

// WithAfterSync calls fn with the result of every Sync.
func WithAfterSync(fn func(SyncResult)) SyncerOption {
	return func(s *Syncer) { s.after = fn }
}

func WithSyncLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSyncer(reg *registry.Registry, l *loader.Loader, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		registry: reg,
		loader:   l,
		logger:   slog.Default(),
		owned:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync registers the contribution of every valid, enabled module in the
// loader catalogue, then fallbacks for active persisted modules not on disk,
// and unregisters anything it registered earlier that is no longer present.
func (s *Syncer) Sync(ctx context.Context) SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := SyncResult{Registered: []string{}, Fallbacks: []string{}, Removed: []string{}}
	current := make(map[string]bool)

	for _, c := range s.loader.Contributions() {
		if err := s.registry.Register(c); err != nil {
			res.Rejected = append(res.Rejected, c.ID)
			continue
		}
		current[c.ID] = true
		res.Registered = append(res.Registered, c.ID)
	}

	s.persist(ctx)

	if s.source != nil {
		modules, err := s.source.ModulesByStatus(ctx, []string{store.StatusActive})
		if err != nil {
			s.logger.Warn("fallback contributions skipped", "error", err)
		}
		for _, m := range modules {
			if current[m.Slug] || s.onDisk(m.Slug) {
				continue
			}
			if err := s.registry.Register(FallbackContribution(m)); err != nil {
				res.Rejected = append(res.Rejected, m.Slug)
				continue
			}
			current[m.Slug] = true
			res.Fallbacks = append(res.Fallbacks, m.Slug)
		}
	}

	for id := range s.owned {
		if !current[id] {
			s.registry.Unregister(id)
			res.Removed = append(res.Removed, id)
		}
	}
	slices.Sort(res.Removed)
	s.owned = current

	s.logger.Info("module registry synced",
		"registered", len(res.Registered), "fallbacks", len(res.Fallbacks),
		"removed", len(res.Removed), "rejected", len(res.Rejected))
	s.publish(ctx, res)
	if s.after != nil {
		s.after(res)
	}
	return res
}

// Rescan re-runs discovery and syncs the registry.
func (s *Syncer) Rescan(ctx context.Context) SyncResult {
	s.loader.Discover()
	return s.Sync(ctx)
}

// onDisk reports whether slug has a directory in the catalogue, valid or
// not. A broken or disabled module on disk gets no fallback.
func (s *Syncer) onDisk(slug string) bool {
	_, ok := s.loader.Get(slug)
	return ok
}

func (s *Syncer) persist(ctx context.Context) {
	if s.writer == nil {
		return
	}
	for _, r := range s.loader.Catalog() {
		ok, isOk := r.(loader.Ok)
		if !isOk {
			continue
		}
		d := ok.Descriptor
		err := s.writer.UpsertModule(ctx, store.Module{
			Slug:        d.Slug,
			Name:        d.Name,
			Version:     d.Version,
			Description: d.Description,
			Category:    d.Category,
			HasFrontend: len(ok.Bootstrap.Pages) > 0,
		})
		if err != nil {
			s.logger.Warn("failed to persist module", "slug", d.Slug, "error", err)
		}
	}
}

func (s *Syncer) publish(ctx context.Context, res SyncResult) {
	if s.broker == nil {
		return
	}
	send := func(action string, ids []string) {
		for _, id := range ids {
			ev := events.NewEvent(events.TopicModuleDiscovery, action, id, nil)
			if err := s.broker.Publish(ctx, ev); err != nil {
				s.logger.Warn("failed to publish discovery event", "slug", id, "error", err)
			}
		}
	}
	send("module.registered", res.Registered)
	send("module.registered", res.Fallbacks)
	send("module.unregistered", res.Removed)
	if len(res.Rejected) > 0 {
		details, _ := json.Marshal(map[string][]string{"rejected": res.Rejected})
		ev := events.NewEvent(events.TopicModuleDiscovery, "module.rejected", "", details)
		if err := s.broker.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish discovery event", "error", err)
		}
	}
}

// FallbackContribution builds a contribution from a persisted module record:
// its top-level menu rows become sidebar items.
func FallbackContribution(m store.Module) contribution.ModuleContribution {
	c := contribution.ModuleContribution{
		ID:      m.Slug,
		Name:    m.Name,
		Version: m.Version,
		Enabled: m.Status == store.StatusActive,
	}
	ids := make(map[string]bool, len(m.Menus))
	for _, row := range m.Menus {
		ids[row.ID] = true
	}
	for _, row := range m.Menus {
		if row.ParentID != "" && ids[row.ParentID] {
			continue
		}
		order := row.Order
		item := contribution.MenuItem{
			ID:    row.ID,
			Name:  row.Label,
			Path:  row.Route,
			Icon:  row.Icon,
			Order: &order,
		}
		if row.Permission != "" {
			item.Permissions = []string{row.Permission}
		}
		c.Sidebar = append(c.Sidebar, item)
	}
	return c
}
