package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/modhost/internal/auth"
	"github.com/darkden-lab/modhost/internal/contribution"
	"github.com/darkden-lab/modhost/internal/events"
	"github.com/darkden-lab/modhost/internal/gate"
	"github.com/darkden-lab/modhost/internal/loader"
	"github.com/darkden-lab/modhost/internal/registry"
	"github.com/darkden-lab/modhost/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeModule(t *testing.T, root, dir string, files map[string]string) {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(path, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// fixture lays out three modules: orders (declared contribution, pages),
// crm (menus only) and broken (invalid descriptor).
func fixture(t *testing.T) (*loader.Loader, string) {
	t.Helper()
	root := t.TempDir()
	writeModule(t, root, "orders", map[string]string{
		loader.DescriptorFile: `{"name": "Orders", "slug": "orders", "version": "1.0.0", "enabled": true}`,
		loader.PagesFile: `[
  {"id": "list", "path": "/orders", "component": "OrdersList"},
  {"id": "admin", "path": "/orders/admin", "component": "OrdersAdmin", "protected": true, "permissions": ["orders:admin"]}
]`,
		loader.ContributionFile: `{
  "sidebar": [{"id": "orders", "name": "Orders", "path": "/orders", "order": 1}],
  "dashboard": [{"id": "open", "name": "Open orders", "component": "OpenOrders", "roles": ["ADMIN"]}]
}`,
	})
	writeModule(t, root, "crm", map[string]string{
		loader.DescriptorFile: `{"name": "CRM", "slug": "crm", "version": "2.1.0", "enabled": true}`,
		loader.PagesFile: `{
  "pages": [{"id": "contacts", "path": "/crm", "component": "Contacts"}],
  "menus": [{"id": "contacts", "label": "Contacts", "route": "/crm", "order": 2}]
}`,
	})
	writeModule(t, root, "broken", map[string]string{
		loader.DescriptorFile: `{"name": "Broken", "slug": "broken", "enabled": true}`,
	})

	l, err := loader.New(root, loader.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	l.Discover()
	return l, root
}

type fakeSource struct {
	modules []store.Module
	err     error
}

func (f *fakeSource) ModulesByStatus(context.Context, []string) ([]store.Module, error) {
	return f.modules, f.err
}

type fakeWriter struct {
	mu      sync.Mutex
	modules []store.Module
}

func (f *fakeWriter) UpsertModule(_ context.Context, m store.Module) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules = append(f.modules, m)
	return nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSyncRegistersAndRemoves(t *testing.T) {
	l, root := fixture(t)
	reg := registry.New(quietLogger())
	if err := reg.Register(contribution.ModuleContribution{ID: "external", Name: "External", Enabled: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s := NewSyncer(reg, l, WithSyncLogger(quietLogger()))

	res := s.Sync(context.Background())
	if !equal(res.Registered, []string{"crm", "orders"}) {
		t.Errorf("expected crm and orders registered, got %v", res.Registered)
	}
	if reg.IsRegistered("broken") {
		t.Error("invalid module must not be registered")
	}

	if err := os.RemoveAll(filepath.Join(root, "crm")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res = s.Rescan(context.Background())
	if !equal(res.Removed, []string{"crm"}) {
		t.Errorf("expected crm removed, got %v", res.Removed)
	}
	if reg.IsRegistered("crm") {
		t.Error("crm should be unregistered after its directory is gone")
	}
	if !reg.IsRegistered("external") {
		t.Error("sync must not unregister modules it did not register")
	}
}

func TestSyncFallbacks(t *testing.T) {
	l, _ := fixture(t)
	reg := registry.New(quietLogger())
	src := &fakeSource{modules: []store.Module{
		{Slug: "legacy", Name: "Legacy", Version: "0.9.0", Status: store.StatusActive,
			Menus: []store.MenuRow{{ID: "l1", Label: "Legacy", Route: "/legacy"}}},
		{Slug: "orders", Name: "Orders (db)", Status: store.StatusActive},
		{Slug: "broken", Name: "Broken (db)", Status: store.StatusActive},
	}}
	s := NewSyncer(reg, l, WithModuleSource(src), WithSyncLogger(quietLogger()))

	res := s.Sync(context.Background())
	if !equal(res.Fallbacks, []string{"legacy"}) {
		t.Errorf("expected only legacy fallback, got %v", res.Fallbacks)
	}
	c, ok := reg.Contribution("orders")
	if !ok || c.Name != "Orders" {
		t.Errorf("disk contribution must win over the store record, got %+v", c)
	}

	src.modules = nil
	res = s.Sync(context.Background())
	if !equal(res.Removed, []string{"legacy"}) {
		t.Errorf("expected legacy removed, got %v", res.Removed)
	}

	src.err = errors.New("db down")
	res = s.Sync(context.Background())
	if len(res.Registered) != 2 || len(res.Fallbacks) != 0 {
		t.Errorf("store error must only skip fallbacks, got %+v", res)
	}
}

func TestSyncPersistsAndPublishes(t *testing.T) {
	l, _ := fixture(t)
	w := &fakeWriter{}
	broker := events.NewInMemoryBroker()

	var mu sync.Mutex
	var actions []string
	if _, err := broker.Subscribe(events.TopicModuleDiscovery, func(e events.Event) {
		mu.Lock()
		actions = append(actions, e.Action+":"+e.Module)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var after SyncResult
	s := NewSyncer(registry.New(quietLogger()), l,
		WithModuleWriter(w), WithBroker(broker), WithSyncLogger(quietLogger()),
		WithAfterSync(func(res SyncResult) { after = res }))
	s.Sync(context.Background())
	broker.Close()

	if len(after.Registered) != 2 {
		t.Errorf("expected after-sync hook to see 2 registrations, got %+v", after)
	}

	if len(w.modules) != 2 {
		t.Fatalf("expected 2 persisted modules, got %d", len(w.modules))
	}
	for _, m := range w.modules {
		if !m.HasFrontend {
			t.Errorf("module %s has pages, expected hasFrontend", m.Slug)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(actions) != 2 {
		t.Errorf("expected 2 registration events, got %v", actions)
	}
}

func TestFallbackContribution(t *testing.T) {
	m := store.Module{
		Slug: "billing", Name: "Billing", Version: "1.0.0", Status: store.StatusActive,
		Menus: []store.MenuRow{
			{ID: "root", Label: "Billing", Route: "/billing", Order: 3, Permission: "billing:read"},
			{ID: "child", Label: "Invoices", ParentID: "root"},
			{ID: "orphan", Label: "Orphan", ParentID: "gone"},
		},
	}
	c := FallbackContribution(m)
	if c.ID != "billing" || !c.Enabled {
		t.Errorf("unexpected identity: %+v", c)
	}
	if len(c.Sidebar) != 2 {
		t.Fatalf("expected root and orphan as sidebar items, got %+v", c.Sidebar)
	}
	if *c.Sidebar[0].Order != 3 || c.Sidebar[0].Permissions[0] != "billing:read" {
		t.Errorf("unexpected sidebar item: %+v", c.Sidebar[0])
	}
	if c.Dashboard != nil || c.Notifications != nil {
		t.Error("fallback must not fabricate undeclared kinds")
	}

	m.Status = store.StatusInstalled
	if FallbackContribution(m).Enabled {
		t.Error("non-active record must produce a disabled contribution")
	}
}

type fakeGate struct {
	available  []gate.AvailableModule
	executable map[string]bool
	managers   map[string]bool

	mu     sync.Mutex
	logged []string
}

func (f *fakeGate) CanExecuteModule(_ context.Context, slug, _ string) bool {
	return f.executable[slug]
}

func (f *fakeGate) AvailableModules(context.Context, string, string) []gate.AvailableModule {
	return f.available
}

func (f *fakeGate) CanManageModules(_ context.Context, userID string) bool {
	return f.managers[userID]
}

func (f *fakeGate) LogModuleExecution(_ context.Context, slug, action, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, action+":"+slug)
}

type fakeEnablement struct {
	modules map[string]string
	rows    map[string]bool
	err     error
}

func (f *fakeEnablement) ModuleBySlug(_ context.Context, slug string) (*store.Module, error) {
	id, ok := f.modules[slug]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Module{ID: id, Slug: slug}, nil
}

func (f *fakeEnablement) SetTenantModule(_ context.Context, tenantID, moduleID string, enabled bool) error {
	if f.err != nil {
		return f.err
	}
	f.rows[tenantID+"/"+moduleID] = enabled
	return nil
}

type testServer struct {
	router *mux.Router
	gate   *fakeGate
	reg    *registry.Registry
	en     *fakeEnablement
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	l, _ := fixture(t)
	reg := registry.New(quietLogger())
	syncer := NewSyncer(reg, l, WithSyncLogger(quietLogger()))
	syncer.Sync(context.Background())

	g := &fakeGate{
		available:  []gate.AvailableModule{{Slug: "orders", Name: "Orders"}},
		executable: map[string]bool{"orders": true},
		managers:   map[string]bool{"root": true},
	}
	r := mux.NewRouter()
	en := &fakeEnablement{modules: map[string]string{"orders": "m-orders"}, rows: map[string]bool{}}
	NewHandlers(g, reg, l, syncer, en, quietLogger()).RegisterRoutes(r)
	return &testServer{router: r, gate: g, reg: reg, en: en}
}

func (s *testServer) do(t *testing.T, method, path string, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()
	return s.doBody(t, method, path, "", claims)
}

func (s *testServer) doBody(t *testing.T, method, path, body string, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if claims != nil {
		req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

var userClaims = &auth.Claims{UserID: "u1", TenantID: "t1", Role: auth.RoleUser}

func TestHandleList(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/api/modules", userClaims)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decode[map[string][]gate.AvailableModule](t, rr)
	if len(body["modules"]) != 1 || body["modules"][0].Slug != "orders" {
		t.Errorf("unexpected modules: %+v", body)
	}

	if rr := srv.do(t, http.MethodGet, "/api/modules", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without claims, got %d", rr.Code)
	}
}

func TestHandleContributionsRestrictedToAvailableModules(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/api/modules/contributions", userClaims)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decode[Contributions](t, rr)
	if len(body.Sidebar) != 1 || body.Sidebar[0].ModuleID != "orders" {
		t.Errorf("expected only the orders sidebar item, got %+v", body.Sidebar)
	}
	if len(body.Dashboard) != 0 {
		t.Errorf("ADMIN-only widget leaked to USER: %+v", body.Dashboard)
	}

	admin := &auth.Claims{UserID: "a1", TenantID: "t1", Role: auth.RoleAdmin}
	body = decode[Contributions](t, srv.do(t, http.MethodGet, "/api/modules/contributions", admin))
	if len(body.Dashboard) != 1 {
		t.Errorf("expected widget for ADMIN, got %+v", body.Dashboard)
	}

	srv.gate.available = nil
	body = decode[Contributions](t, srv.do(t, http.MethodGet, "/api/modules/contributions", admin))
	if len(body.Sidebar) != 0 || len(body.Dashboard) != 0 {
		t.Errorf("expected nothing when the gate allows no modules, got %+v", body)
	}
}

func TestHandlePages(t *testing.T) {
	srv := newTestServer(t)

	body := decode[map[string][]loader.Page](t, srv.do(t, http.MethodGet, "/api/modules/pages", userClaims))
	if len(body["pages"]) != 1 || body["pages"][0].ID != "list" {
		t.Errorf("expected only the public orders page, got %+v", body["pages"])
	}

	withPerm := &auth.Claims{UserID: "u2", TenantID: "t1", Role: auth.RoleUser, Permissions: []string{"orders:admin"}}
	body = decode[map[string][]loader.Page](t, srv.do(t, http.MethodGet, "/api/modules/pages", withPerm))
	if len(body["pages"]) != 2 {
		t.Errorf("expected both orders pages, got %+v", body["pages"])
	}
	for _, p := range body["pages"] {
		if p.Module != "orders" {
			t.Errorf("page from unavailable module %q returned", p.Module)
		}
	}
}

func TestHandleAccess(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		slug   string
		want   bool
		action string
	}{
		{"orders", true, ActionAccess},
		{"crm", false, ActionAccessDenied},
	}
	for _, tt := range tests {
		rr := srv.do(t, http.MethodGet, "/api/modules/"+tt.slug+"/access", userClaims)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.slug, rr.Code)
		}
		if got := decode[map[string]bool](t, rr)["allowed"]; got != tt.want {
			t.Errorf("%s: expected allowed=%v, got %v", tt.slug, tt.want, got)
		}
	}
	want := []string{ActionAccess + ":orders", ActionAccessDenied + ":crm"}
	if !equal(srv.gate.logged, want) {
		t.Errorf("expected audit %v, got %v", want, srv.gate.logged)
	}
}

func TestAdminRoutes(t *testing.T) {
	srv := newTestServer(t)
	root := &auth.Claims{UserID: "root", Role: auth.RoleSuperAdmin}

	if rr := srv.do(t, http.MethodGet, "/api/modules/catalog", userClaims); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-manager, got %d", rr.Code)
	}
	if rr := srv.do(t, http.MethodGet, "/api/modules/catalog", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without claims, got %d", rr.Code)
	}

	rr := srv.do(t, http.MethodGet, "/api/modules/catalog", root)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	stats := decode[loader.Stats](t, rr)
	if stats.Total != 3 || stats.Failed != 1 || stats.Enabled != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if rr := srv.do(t, http.MethodPost, "/api/modules/rescan", userClaims); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-manager rescan, got %d", rr.Code)
	}
	rr = srv.do(t, http.MethodPost, "/api/modules/rescan", root)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if n := len(srv.gate.logged); n != 1 || srv.gate.logged[0] != ActionRescan+":*" {
		t.Errorf("expected rescan to be audited, got %v", srv.gate.logged)
	}
}

func TestWatcherSyncsRegistry(t *testing.T) {
	l, root := fixture(t)
	reg := registry.New(quietLogger())
	s := NewSyncer(reg, l, WithSyncLogger(quietLogger()))
	s.Sync(context.Background())

	synced := make(chan SyncResult, 4)
	w, err := loader.NewWatcher(l, 50*time.Millisecond, func(map[string]loader.Result) {
		synced <- s.Sync(context.Background())
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeModule(t, root, "crm", map[string]string{
		loader.DescriptorFile: `{"name": "CRM", "slug": "crm", "version": "2.1.0", "enabled": false}`,
	})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-synced:
			if !reg.IsRegistered("crm") {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for crm to be unregistered")
		}
	}
}

func TestHandleSetTenant(t *testing.T) {
	srv := newTestServer(t)
	root := &auth.Claims{UserID: "root", Role: auth.RoleSuperAdmin}
	const tenantID = "3f2c8a54-6d1e-4b7a-9c0f-5e8d2a1b7c44"

	if rr := srv.doBody(t, http.MethodPut, "/api/modules/orders/tenants/"+tenantID, `{"enabled": true}`, userClaims); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-manager, got %d", rr.Code)
	}

	rr := srv.doBody(t, http.MethodPut, "/api/modules/orders/tenants/"+tenantID, `{"enabled": true}`, root)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !srv.en.rows[tenantID+"/m-orders"] {
		t.Errorf("expected enablement row to be saved, got %v", srv.en.rows)
	}
	if len(srv.gate.logged) != 1 || srv.gate.logged[0] != ActionTenantEnable+":orders" {
		t.Errorf("expected enablement to be audited, got %v", srv.gate.logged)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing flag", "/api/modules/orders/tenants/"+tenantID, `{}`, http.StatusBadRequest},
		{"bad json", "/api/modules/orders/tenants/"+tenantID, `nope`, http.StatusBadRequest},
		{"tenant not a uuid", "/api/modules/orders/tenants/t9", `{"enabled": true}`, http.StatusBadRequest},
		{"unknown module", "/api/modules/ghost/tenants/"+tenantID, `{"enabled": false}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := srv.doBody(t, http.MethodPut, tt.path, tt.body, root); rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}

	srv.en.err = errors.New("db down")
	if rr := srv.doBody(t, http.MethodPut, "/api/modules/orders/tenants/"+tenantID, `{"enabled": false}`, root); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on store failure, got %d", rr.Code)
	}
}
