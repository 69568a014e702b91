// Package store reads and writes the persisted module records: modules,
// their menu rows, per-tenant enablement and user roles.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable is returned by Unavailable for every call.
var ErrUnavailable = errors.New("module store unavailable")

// Module status values.
const (
	StatusActive    = "active"
	StatusInstalled = "installed"
	StatusDBReady   = "db_ready"
	StatusDisabled  = "disabled"
	StatusError     = "error"
)

// Module is the persisted record of an installed module.
type Module struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	HasBackend  bool      `json:"hasBackend"`
	HasFrontend bool      `json:"hasFrontend"`
	Menus       []MenuRow `json:"menus"`
	InstalledAt time.Time `json:"installedAt"`
}

// MenuRow is one flat menu record belonging to a module.
type MenuRow struct {
	ID         string `json:"id"`
	ModuleID   string `json:"moduleId"`
	Label      string `json:"label"`
	Icon       string `json:"icon"`
	Route      string `json:"route"`
	Order      int    `json:"order"`
	Permission string `json:"permission"`
	ParentID   string `json:"parentId"`
}

// TenantModule records whether a tenant has a module switched on.
type TenantModule struct {
	TenantID string `json:"tenantId"`
	ModuleID string `json:"moduleId"`
	Enabled  bool   `json:"enabled"`
}
