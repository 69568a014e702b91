package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherRediscoversOnChange(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "mod", map[string]string{
		DescriptorFile: `{"name": "M", "slug": "mod", "version": "1.0.0", "enabled": false}`,
	})

	l := newTestLoader(t, root)
	l.Discover()

	changed := make(chan map[string]Result, 4)
	w, err := NewWatcher(l, 50*time.Millisecond, func(c map[string]Result) { changed <- c })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	path := filepath.Join(root, "mod", DescriptorFile)
	if err := os.WriteFile(path, []byte(`{"name": "M", "slug": "mod", "version": "1.1.0", "enabled": true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case catalog := <-changed:
			if ok, isOk := catalog["mod"].(Ok); isOk && ok.Descriptor.Enabled {
				if ok.Descriptor.Version != "1.1.0" {
					t.Errorf("expected version 1.1.0, got %s", ok.Descriptor.Version)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for rediscovery")
		}
	}
}

func TestWatcherRelevant(t *testing.T) {
	root := t.TempDir()
	l := newTestLoader(t, root)
	w, err := NewWatcher(l, 0, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	tests := []struct {
		name string
		want bool
	}{
		{"mod", true},
		{filepath.Join("mod", DescriptorFile), true},
		{filepath.Join("mod", PagesFile), true},
		{filepath.Join("mod", ContributionFile), true},
		{filepath.Join("mod", "README.md"), false},
		{filepath.Join("mod", ".module.json.swp"), false},
		{filepath.Join("mod", "nested", DescriptorFile), false},
	}
	for _, tt := range tests {
		if got := w.relevant(filepath.Join(root, tt.name)); got != tt.want {
			t.Errorf("relevant(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
