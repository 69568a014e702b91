package loader

import (
	"slices"

	"github.com/darkden-lab/modhost/internal/contribution"
)

// Module status labels reported by Stats.
const (
	StatusLoaded   = "loaded"
	StatusDisabled = "disabled"
	StatusFailed   = "failed"
)

// ModuleStatus is one row of the operational status list.
type ModuleStatus struct {
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Status   string   `json:"status"`
	Pages    int      `json:"pages"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Stats summarises the catalogue for operational tooling.
type Stats struct {
	Total   int            `json:"total"`
	Valid   int            `json:"valid"`
	Enabled int            `json:"enabled"`
	Failed  int            `json:"failed"`
	Modules []ModuleStatus `json:"modules"`
}

// AllPages returns the pages of every valid, enabled module ordered by slug.
func (l *Loader) AllPages() []Page {
	catalog := l.Catalog()
	pages := []Page{}
	for _, slug := range sortedSlugs(catalog) {
		ok, isOk := catalog[slug].(Ok)
		if !isOk || !ok.Descriptor.Enabled {
			continue
		}
		pages = append(pages, ok.Bootstrap.Pages...)
	}
	return pages
}

// Stats returns catalogue counts and a per-module status list.
func (l *Loader) Stats() Stats {
	catalog := l.Catalog()
	stats := Stats{Total: len(catalog), Modules: make([]ModuleStatus, 0, len(catalog))}

	for _, slug := range sortedSlugs(catalog) {
		switch r := catalog[slug].(type) {
		case Ok:
			stats.Valid++
			status := StatusDisabled
			if r.Descriptor.Enabled {
				stats.Enabled++
				status = StatusLoaded
			}
			stats.Modules = append(stats.Modules, ModuleStatus{
				Slug:     slug,
				Name:     r.Descriptor.Name,
				Version:  r.Descriptor.Version,
				Status:   status,
				Pages:    len(r.Bootstrap.Pages),
				Warnings: r.Warnings,
			})
		case Failed:
			stats.Failed++
			stats.Modules = append(stats.Modules, ModuleStatus{
				Slug:    slug,
				Name:    r.Descriptor.Name,
				Version: r.Descriptor.Version,
				Status:  StatusFailed,
				Error:   r.Err.Error(),
			})
		}
	}
	return stats
}

// Contributions returns what every valid, enabled module offers the
// registry: its declared contribution, or a sidebar built from its menus.
func (l *Loader) Contributions() []contribution.ModuleContribution {
	catalog := l.Catalog()
	var out []contribution.ModuleContribution
	for _, slug := range sortedSlugs(catalog) {
		ok, isOk := catalog[slug].(Ok)
		if !isOk || !ok.Descriptor.Enabled {
			continue
		}
		if ok.Contribution != nil {
			out = append(out, cloneContribution(*ok.Contribution))
			continue
		}
		out = append(out, menuContribution(ok.Module))
	}
	return out
}

func menuContribution(m Module) contribution.ModuleContribution {
	c := contribution.ModuleContribution{
		ID:      m.Descriptor.Slug,
		Name:    m.Descriptor.Name,
		Version: m.Descriptor.Version,
		Enabled: m.Descriptor.Enabled,
	}
	// Only top-level menus become sidebar entries; nesting is the gate's job.
	for _, menu := range m.Bootstrap.Menus {
		if menu.ParentID != "" {
			continue
		}
		item := contribution.MenuItem{
			ID:    menu.ID,
			Name:  menu.Label,
			Path:  menu.Route,
			Icon:  menu.Icon,
			Order: menu.Order,
		}
		if menu.Permission != "" {
			item.Permissions = []string{menu.Permission}
		}
		c.Sidebar = append(c.Sidebar, item)
	}
	return c
}

func cloneContribution(c contribution.ModuleContribution) contribution.ModuleContribution {
	c.Sidebar = slices.Clone(c.Sidebar)
	c.Dashboard = slices.Clone(c.Dashboard)
	c.Taskbar = slices.Clone(c.Taskbar)
	c.UserMenu = slices.Clone(c.UserMenu)
	c.Notifications = slices.Clone(c.Notifications)
	return c
}
