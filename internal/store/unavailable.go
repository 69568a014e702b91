package store

import "context"

// Unavailable stands in for the store when no database is configured. Every
// call fails, so callers fall back to their closed default.
type Unavailable struct{}

func (Unavailable) ModuleBySlug(context.Context, string) (*Module, error) {
	return nil, ErrUnavailable
}

func (Unavailable) ModulesByStatus(context.Context, []string) ([]Module, error) {
	return nil, ErrUnavailable
}

func (Unavailable) TenantModule(context.Context, string, string) (*TenantModule, error) {
	return nil, ErrUnavailable
}

func (Unavailable) TenantModules(context.Context, string) (map[string]bool, error) {
	return nil, ErrUnavailable
}

func (Unavailable) UserRole(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) SetTenantModule(context.Context, string, string, bool) error {
	return ErrUnavailable
}
