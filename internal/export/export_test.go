package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devloop-sh/devloop/internal/config"
)

func exportInput() *config.Input {
	return &config.Input{Servers: []config.ServerConfig{{
		ServerIdentity: config.ServerIdentity{Name: "a"},
		Routes: []config.Route{
			{Path: "/", HTML: "<h1>home</h1>"},
			{Path: "/about", HTML: "<h1>about</h1>"},
			{Path: "/styles.css", Raw: "body{}", Mime: "text/css"},
			{Path: "/api", Proxy: "http://localhost:9999"},
		},
	}}}
}

func TestExportWritesInlineRoutes(t *testing.T) {
	dir := t.TempDir()
	written, err := Export(exportInput(), Options{Dir: dir})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("written = %v", written)
	}

	checks := map[string]string{
		"index.html": "<h1>home</h1>",
		"about.html": "<h1>about</h1>",
		"styles.css": "body{}",
	}
	for rel, want := range checks {
		body, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			t.Errorf("%s: %v", rel, err)
			continue
		}
		if string(body) != want {
			t.Errorf("%s = %q", rel, body)
		}
	}
}

func TestExportDryRun(t *testing.T) {
	dir := t.TempDir()
	written, err := Export(exportInput(), Options{Dir: dir, DryRun: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("plan = %v", written)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("dry-run must not write: %v", entries)
	}
}

func TestExportRefusesOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Export(exportInput(), Options{Dir: dir}); err == nil {
		t.Fatal("expected refusal without --force")
	}
	if _, err := Export(exportInput(), Options{Dir: dir, Force: true}); err != nil {
		t.Fatalf("force export: %v", err)
	}
	body, _ := os.ReadFile(filepath.Join(dir, "index.html"))
	if string(body) != "<h1>home</h1>" {
		t.Errorf("overwrite body = %q", body)
	}
}
