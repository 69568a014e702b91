package gate

import (
	"sort"
	"strings"

	"github.com/darkden-lab/modhost/internal/auth"
	"github.com/darkden-lab/modhost/internal/store"
)

// MenuNode is one node of a module's menu tree. Trees are rebuilt from the
// flat store rows on every call and never shared between callers.
type MenuNode struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Icon       string      `json:"icon,omitempty"`
	Route      string      `json:"route,omitempty"`
	Order      int         `json:"order"`
	Permission string      `json:"permission,omitempty"`
	Children   []*MenuNode `json:"children"`
}

// BuildMenuTree links rows into a forest by ParentID. Rows whose parent is
// missing become roots. Rows that only reach each other through a parent
// cycle are dropped. Siblings are ordered by Order, then Label.
func BuildMenuTree(rows []store.MenuRow) []*MenuNode {
	nodes := make(map[string]*MenuNode, len(rows))
	for _, r := range rows {
		nodes[r.ID] = &MenuNode{
			ID:         r.ID,
			Label:      r.Label,
			Icon:       r.Icon,
			Route:      r.Route,
			Order:      r.Order,
			Permission: r.Permission,
			Children:   []*MenuNode{},
		}
	}

	var roots []*MenuNode
	for _, r := range rows {
		n := nodes[r.ID]
		if r.ParentID == r.ID {
			continue
		}
		if parent, ok := nodes[r.ParentID]; ok {
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*MenuNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].Label < nodes[j].Label
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// forcePermission sets permission on every node of the tree.
func forcePermission(nodes []*MenuNode, permission string) {
	for _, n := range nodes {
		n.Permission = permission
		forcePermission(n.Children, permission)
	}
}

// filterMenus returns the nodes visible to role. Children are filtered
// before their parent is considered, and a visible parent is kept even when
// none of its children survive.
func filterMenus(nodes []*MenuNode, role string) []*MenuNode {
	out := make([]*MenuNode, 0, len(nodes))
	for _, n := range nodes {
		n.Children = filterMenus(n.Children, role)
		if requiresAdmin(n.Permission) && !isAdminRole(role) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// requiresAdmin matches "admin" in any letter case, so "billing:Admin" is
// admin-only as well.
func requiresAdmin(permission string) bool {
	return strings.Contains(strings.ToLower(permission), "admin")
}

func isAdminRole(role string) bool {
	return role == auth.RoleAdmin || role == auth.RoleSuperAdmin
}
