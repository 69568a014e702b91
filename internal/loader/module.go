package loader

import "github.com/darkden-lab/modhost/internal/contribution"

// Descriptor is the identity and policy a module declares in module.json.
type Descriptor struct {
	Name              string `json:"name"`
	Slug              string `json:"slug"`
	Version           string `json:"version"`
	Enabled           bool   `json:"enabled"`
	PermissionsStrict bool   `json:"permissionsStrict"`
	Sandboxed         bool   `json:"sandboxed"`
	Author            string `json:"author,omitempty"`
	Description       string `json:"description,omitempty"`
	Category          string `json:"category,omitempty"`
}

// Page is one routable unit a module exposes. Component is a key into the
// host-side component registry.
type Page struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Component   string   `json:"component"`
	Protected   bool     `json:"protected"`
	Permissions []string `json:"permissions,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Module      string   `json:"module"`
}

// Route binds an extra path to one of the module's pages.
type Route struct {
	Path   string `json:"path"`
	PageID string `json:"pageId,omitempty"`
	Method string `json:"method,omitempty"`
}

// Menu is a flat menu row declared by a module.
type Menu struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Icon       string `json:"icon,omitempty"`
	Route      string `json:"route,omitempty"`
	Order      *int   `json:"order,omitempty"`
	Permission string `json:"permission,omitempty"`
	ParentID   string `json:"parentId,omitempty"`
}

// Bootstrap is everything a module declares in pages.json. Pages is never nil.
type Bootstrap struct {
	Pages       []Page   `json:"pages"`
	Routes      []Route  `json:"routes,omitempty"`
	Menus       []Menu   `json:"menus,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func emptyBootstrap() Bootstrap {
	return Bootstrap{Pages: []Page{}}
}

// Module is a successfully loaded module.
type Module struct {
	Descriptor   Descriptor
	Bootstrap    Bootstrap
	Dir          string
	Warnings     []string
	Contribution *contribution.ModuleContribution
}

// Result is the outcome of loading one module directory: Ok or Failed.
type Result interface {
	Slug() string
	result()
}

// Ok is a module that passed every validation step. Disabled modules are Ok
// with Descriptor.Enabled false and an empty bootstrap.
type Ok struct {
	Module
}

// Failed is a module that did not pass validation. Descriptor is a stub
// with Enabled false.
type Failed struct {
	Descriptor Descriptor
	Bootstrap  Bootstrap
	Err        *LoadError
}

func (r Ok) Slug() string     { return r.Descriptor.Slug }
func (r Failed) Slug() string { return r.Descriptor.Slug }

func (Ok) result()     {}
func (Failed) result() {}

func failed(slug string, err *LoadError) Failed {
	return Failed{
		Descriptor: Descriptor{Name: slug, Slug: slug, Enabled: false},
		Bootstrap:  emptyBootstrap(),
		Err:        err,
	}
}
