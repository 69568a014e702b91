package registry

import (
	"cmp"
	"slices"

	"github.com/darkden-lab/modhost/internal/contribution"
)

// CanAccess reports whether a caller with role and permissions may see an
// item gated by a. An ungated item is public; otherwise the caller needs the
// role or at least one of the permissions.
func CanAccess(a contribution.Access, role string, permissions []string) bool {
	if len(a.Roles) == 0 && len(a.Permissions) == 0 {
		return true
	}
	if role != "" && slices.Contains(a.Roles, role) {
		return true
	}
	for _, p := range permissions {
		if slices.Contains(a.Permissions, p) {
			return true
		}
	}
	return false
}

// collect walks every enabled contribution, takes the items returned by pick
// and keeps the ones the caller can access. A nil slice from pick means the
// module did not declare that kind and is skipped.
func collect[T any](r *Registry, pick func(contribution.ModuleContribution) []T, access func(T) contribution.Access, tag func(*T, string), role string, permissions []string) []T {
	out := []T{}
	for _, c := range r.snapshot() {
		if !c.Enabled {
			continue
		}
		items := pick(c)
		if items == nil {
			continue
		}
		for _, item := range items {
			if !CanAccess(access(item), role, permissions) {
				continue
			}
			tag(&item, c.ID)
			out = append(out, item)
		}
	}
	return out
}

// sortKey is what ordered items are compared by.
type sortKey struct {
	order    *int
	name     string
	moduleID string
	id       string
}

// compareOrdered orders by ascending order when both items define one and by
// name otherwise. Items with an order come before items without one so the
// comparison stays total; module id and item id break remaining ties.
func compareOrdered(a, b sortKey) int {
	switch {
	case a.order != nil && b.order != nil:
		if c := cmp.Compare(*a.order, *b.order); c != 0 {
			return c
		}
	case a.order != nil:
		return -1
	case b.order != nil:
		return 1
	}
	if c := cmp.Compare(a.name, b.name); c != 0 {
		return c
	}
	if c := cmp.Compare(a.moduleID, b.moduleID); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// SidebarItems returns the sidebar entries visible to the caller.
func (r *Registry) SidebarItems(role string, permissions []string) []contribution.MenuItem {
	items := collect(r,
		func(c contribution.ModuleContribution) []contribution.MenuItem { return c.Sidebar },
		func(i contribution.MenuItem) contribution.Access { return i.Access },
		func(i *contribution.MenuItem, id string) { i.ModuleID = id },
		role, permissions)
	slices.SortStableFunc(items, func(a, b contribution.MenuItem) int {
		return compareOrdered(sortKey{a.Order, a.Name, a.ModuleID, a.ID}, sortKey{b.Order, b.Name, b.ModuleID, b.ID})
	})
	return items
}

// DashboardWidgets returns the dashboard widgets visible to the caller.
func (r *Registry) DashboardWidgets(role string, permissions []string) []contribution.Widget {
	items := collect(r,
		func(c contribution.ModuleContribution) []contribution.Widget { return c.Dashboard },
		func(i contribution.Widget) contribution.Access { return i.Access },
		func(i *contribution.Widget, id string) { i.ModuleID = id },
		role, permissions)
	slices.SortStableFunc(items, func(a, b contribution.Widget) int {
		return compareOrdered(sortKey{a.Order, a.Name, a.ModuleID, a.ID}, sortKey{b.Order, b.Name, b.ModuleID, b.ID})
	})
	return items
}

// TaskbarItems returns the taskbar entries visible to the caller.
func (r *Registry) TaskbarItems(role string, permissions []string) []contribution.TaskbarItem {
	items := collect(r,
		func(c contribution.ModuleContribution) []contribution.TaskbarItem { return c.Taskbar },
		func(i contribution.TaskbarItem) contribution.Access { return i.Access },
		func(i *contribution.TaskbarItem, id string) { i.ModuleID = id },
		role, permissions)
	slices.SortStableFunc(items, func(a, b contribution.TaskbarItem) int {
		return compareOrdered(sortKey{a.Order, a.Name, a.ModuleID, a.ID}, sortKey{b.Order, b.Name, b.ModuleID, b.ID})
	})
	return items
}

// UserMenuItems returns the user-menu entries visible to the caller.
func (r *Registry) UserMenuItems(role string, permissions []string) []contribution.UserMenuItem {
	items := collect(r,
		func(c contribution.ModuleContribution) []contribution.UserMenuItem { return c.UserMenu },
		func(i contribution.UserMenuItem) contribution.Access { return i.Access },
		func(i *contribution.UserMenuItem, id string) { i.ModuleID = id },
		role, permissions)
	slices.SortStableFunc(items, func(a, b contribution.UserMenuItem) int {
		return compareOrdered(sortKey{a.Order, a.Name, a.ModuleID, a.ID}, sortKey{b.Order, b.Name, b.ModuleID, b.ID})
	})
	return items
}

// Notifications returns the notifications visible to the caller, newest
// first.
func (r *Registry) Notifications(role string, permissions []string) []contribution.Notification {
	items := collect(r,
		func(c contribution.ModuleContribution) []contribution.Notification { return c.Notifications },
		func(i contribution.Notification) contribution.Access { return i.Access },
		func(i *contribution.Notification, id string) { i.ModuleID = id },
		role, permissions)
	slices.SortStableFunc(items, func(a, b contribution.Notification) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ModuleID, b.ModuleID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items
}
