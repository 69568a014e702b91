// Package loader discovers modules on disk, validates their declarative
// files and keeps a catalogue of the outcome. Discovery reads JSON only; it
// never executes anything a module ships.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/darkden-lab/modhost/internal/contribution"
)

// File names inside a module directory.
const (
	DescriptorFile   = "module.json"
	PagesFile        = "pages.json"
	ContributionFile = "contribution.json"
)

// maxFileSize bounds how much of a module file is read.
const maxFileSize = 1 << 20

// Loader scans a modules root directory and holds the resulting catalogue.
type Loader struct {
	root    string
	workers int
	logger  *slog.Logger
	schemas *schemas

	mu      sync.RWMutex
	catalog map[string]Result
}

// Option configures a Loader.
type Option func(*Loader)

// WithWorkers bounds how many module directories are loaded concurrently.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithLogger sets the logger used for per-module outcome lines.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loader for the given modules root.
func New(root string, opts ...Option) (*Loader, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		root:    root,
		workers: 4,
		logger:  slog.Default(),
		schemas: s,
		catalog: make(map[string]Result),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root returns the modules root directory.
func (l *Loader) Root() string {
	return l.root
}

// Discover loads every directory under the root and replaces the catalogue.
// It always returns a complete catalogue with one entry per directory.
func (l *Loader) Discover() map[string]Result {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		l.logger.Warn("modules root unreadable, catalogue is empty", "root", l.root, "error", err)
		l.mu.Lock()
		l.catalog = make(map[string]Result)
		l.mu.Unlock()
		return map[string]Result{}
	}

	var (
		mu      sync.Mutex
		catalog = make(map[string]Result, len(entries))
		g       errgroup.Group
	)
	g.SetLimit(l.workers)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		slug := entry.Name()
		g.Go(func() error {
			res := l.load(slug)
			mu.Lock()
			catalog[slug] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	l.mu.Lock()
	l.catalog = catalog
	l.mu.Unlock()

	l.logger.Info("module discovery finished", "root", l.root, "modules", len(catalog))
	return copyCatalog(catalog)
}

// LoadOne loads a single module by slug and records the result in the
// catalogue, failures included. Discover drops entries whose directory is
// gone.
func (l *Loader) LoadOne(slug string) Result {
	res := l.load(slug)
	l.mu.Lock()
	l.catalog[slug] = res
	l.mu.Unlock()
	return res
}

// Catalog returns a copy of the current catalogue.
func (l *Loader) Catalog() map[string]Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyCatalog(l.catalog)
}

// Get returns the catalogue entry for slug.
func (l *Loader) Get(slug string) (Result, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.catalog[slug]
	return res, ok
}

func copyCatalog(src map[string]Result) map[string]Result {
	out := make(map[string]Result, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// load runs every validation step for one module and logs the outcome.
func (l *Loader) load(slug string) Result {
	res := l.loadModule(slug)
	switch r := res.(type) {
	case Ok:
		if !r.Descriptor.Enabled {
			l.logger.Info("module disabled", "module", slug, "version", r.Descriptor.Version)
			break
		}
		for _, w := range r.Warnings {
			l.logger.Warn("module security warning", "module", slug, "warning", w)
		}
		l.logger.Info("module loaded", "module", slug, "version", r.Descriptor.Version, "pages", len(r.Bootstrap.Pages))
	case Failed:
		l.logger.Error("module failed to load", "module", slug, "error", r.Err.Error())
	}
	return res
}

func (l *Loader) loadModule(slug string) Result {
	if !validSlug(slug) {
		return failed(slug, invalidConfig("slug", "%q is not a valid module slug", slug))
	}

	dir := filepath.Join(l.root, slug)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return failed(slug, notFound("module directory %s does not exist", dir))
	}

	desc, lerr := l.readDescriptor(dir, slug)
	if lerr != nil {
		return failed(slug, lerr)
	}

	mod := Module{Descriptor: desc, Bootstrap: emptyBootstrap(), Dir: dir}
	if !desc.Enabled {
		return Ok{mod}
	}

	bootstrap, lerr := l.readBootstrap(dir, slug)
	if lerr != nil {
		return failedWith(desc, lerr)
	}
	for _, p := range bootstrap.Pages {
		if lerr := checkPagePath(p); lerr != nil {
			return failedWith(desc, lerr)
		}
	}
	mod.Bootstrap = bootstrap
	mod.Warnings = securityWarnings(desc)

	contrib, lerr := l.readContribution(dir, desc)
	if lerr != nil {
		return failedWith(desc, lerr)
	}
	mod.Contribution = contrib

	return Ok{mod}
}

// failedWith keeps the parsed identity of a module but forces it disabled.
func failedWith(desc Descriptor, err *LoadError) Failed {
	f := failed(desc.Slug, err)
	f.Descriptor = desc
	f.Descriptor.Enabled = false
	return f
}

type rawDescriptor struct {
	Name              string `json:"name"`
	Slug              string `json:"slug"`
	Version           string `json:"version"`
	Enabled           *bool  `json:"enabled"`
	PermissionsStrict *bool  `json:"permissionsStrict"`
	Sandboxed         *bool  `json:"sandboxed"`
	Author            string `json:"author"`
	Description       string `json:"description"`
	Category          string `json:"category"`
}

func (l *Loader) readDescriptor(dir, slug string) (Descriptor, *LoadError) {
	raw, err := readFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return Descriptor{}, invalidConfig("", "read %s: %v", DescriptorFile, err)
	}
	if m := findCodeMarker(raw); m != "" {
		return Descriptor{}, invalidConfig("", "%s contains executable construct %q", DescriptorFile, m)
	}

	var rd rawDescriptor
	if v := validateJSON(l.schemas.descriptor, raw, &rd); v != nil {
		return Descriptor{}, invalidConfig(v.field, "%s: %s", DescriptorFile, v.message)
	}

	required := []struct{ field, value string }{
		{"name", rd.Name},
		{"slug", rd.Slug},
		{"version", rd.Version},
	}
	for _, r := range required {
		if r.value == "" {
			return Descriptor{}, invalidConfig(r.field, "%s: required field %q is empty", DescriptorFile, r.field)
		}
	}
	if rd.Enabled == nil {
		return Descriptor{}, invalidConfig("enabled", "%s: missing required field %q", DescriptorFile, "enabled")
	}
	if rd.Slug != slug {
		return Descriptor{}, invalidConfig("slug", "slug %q does not match directory %q", rd.Slug, slug)
	}
	if _, err := semver.NewVersion(rd.Version); err != nil {
		return Descriptor{}, invalidConfig("version", "version %q is not semver: %v", rd.Version, err)
	}

	return Descriptor{
		Name:              rd.Name,
		Slug:              rd.Slug,
		Version:           rd.Version,
		Enabled:           *rd.Enabled,
		PermissionsStrict: boolOr(rd.PermissionsStrict, true),
		Sandboxed:         boolOr(rd.Sandboxed, true),
		Author:            rd.Author,
		Description:       rd.Description,
		Category:          rd.Category,
	}, nil
}

func (l *Loader) readBootstrap(dir, slug string) (Bootstrap, *LoadError) {
	raw, err := readFile(filepath.Join(dir, PagesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return emptyBootstrap(), nil
	}
	if err != nil {
		return Bootstrap{}, invalidPage("", "read %s: %v", PagesFile, err)
	}
	if m := findCodeMarker(raw); m != "" {
		return Bootstrap{}, invalidPage("", "%s contains executable construct %q", PagesFile, m)
	}

	// A bare array is shorthand for {"pages": [...]}.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		raw = append(append([]byte(`{"pages":`), trimmed...), '}')
	}

	var b Bootstrap
	if v := validateJSON(l.schemas.pages, raw, &b); v != nil {
		return Bootstrap{}, invalidPage(v.field, "%s: %s", PagesFile, v.message)
	}
	if b.Pages == nil {
		b.Pages = []Page{}
	}

	seen := make(map[string]bool, len(b.Pages))
	for i := range b.Pages {
		if lerr := checkPage(i, b.Pages[i]); lerr != nil {
			return Bootstrap{}, lerr
		}
		if seen[b.Pages[i].ID] {
			return Bootstrap{}, invalidPage("id", "duplicate page id %q", b.Pages[i].ID)
		}
		seen[b.Pages[i].ID] = true
		b.Pages[i].Module = slug
	}
	return b, nil
}

// readContribution reads the optional contribution.json. Identity fields are
// taken from the descriptor.
func (l *Loader) readContribution(dir string, desc Descriptor) (*contribution.ModuleContribution, *LoadError) {
	raw, err := readFile(filepath.Join(dir, ContributionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, invalidConfig("", "read %s: %v", ContributionFile, err)
	}
	if m := findCodeMarker(raw); m != "" {
		return nil, invalidConfig("", "%s contains executable construct %q", ContributionFile, m)
	}

	var c contribution.ModuleContribution
	if v := validateJSON(l.schemas.contribution, raw, &c); v != nil {
		return nil, invalidConfig(v.field, "%s: %s", ContributionFile, v.message)
	}
	c.ID = desc.Slug
	c.Name = desc.Name
	c.Version = desc.Version
	c.Enabled = desc.Enabled
	return &c, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), maxFileSize)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// sortedSlugs returns catalogue keys in ascending order.
func sortedSlugs(catalog map[string]Result) []string {
	slugs := make([]string, 0, len(catalog))
	for slug := range catalog {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
