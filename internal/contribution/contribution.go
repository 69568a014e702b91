// Package contribution defines the shapes a module offers the host for
// aggregation into UI contribution points. It holds no logic.
package contribution

import "time"

// Access gates a contributed item. An item with neither roles nor permissions
// is public.
type Access struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// MenuItem is a sidebar entry.
type MenuItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Order    *int   `json:"order,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	Access
}

// Widget is a dashboard widget. Component is a key into the host-side
// component registry; it is never evaluated.
type Widget struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Component string `json:"component"`
	Size      string `json:"size,omitempty"`
	Order     *int   `json:"order,omitempty"`
	ModuleID  string `json:"moduleId,omitempty"`
	Access
}

// TaskbarItem is a quick-action entry in the taskbar.
type TaskbarItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	Path     string `json:"path,omitempty"`
	Order    *int   `json:"order,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	Access
}

// UserMenuItem is an entry in the user account menu.
type UserMenuItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Order    *int   `json:"order,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	Access
}

// Severity of a module notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Notification is a message a module surfaces to users.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read,omitempty"`
	ModuleID  string    `json:"moduleId,omitempty"`
	Access
}

// ModuleContribution is everything a module offers the registry. A kind the
// module did not declare stays nil.
type ModuleContribution struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Enabled       bool           `json:"enabled"`
	Sidebar       []MenuItem     `json:"sidebar,omitempty"`
	Dashboard     []Widget       `json:"dashboard,omitempty"`
	Taskbar       []TaskbarItem  `json:"taskbar,omitempty"`
	UserMenu      []UserMenuItem `json:"userMenu,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}
