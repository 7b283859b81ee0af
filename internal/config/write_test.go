package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func argsInput(t *testing.T) *Input {
	t.Helper()
	dir := t.TempDir()
	input, err := FromArgs(dir, []string{".", "http://example.com"}, 3000, true)
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	return input
}

func TestWriteInputYAMLRoundTrips(t *testing.T) {
	dir := t.TempDir()
	in := argsInput(t)

	path, err := WriteInput(dir, in, TargetYAML, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "bslive.yml" {
		t.Errorf("path = %q", path)
	}

	loaded, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("written input does not load: %v", err)
	}
	if len(loaded.Servers) != 1 || len(loaded.Servers[0].Routes) != 2 {
		t.Fatalf("round-trip lost routes: %+v", loaded)
	}
	got := loaded.Servers[0].Routes
	want := in.Servers[0].Routes
	for i := range want {
		if got[i].Kind() != want[i].Kind() || got[i].CORS != want[i].CORS {
			t.Errorf("route %d: got %+v want %+v", i, got[i], want[i])
		}
	}
	if loaded.Servers[0].Port != 3000 {
		t.Errorf("port lost: %+v", loaded.Servers[0].ServerIdentity)
	}
}

func TestWriteInputRefusesOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	in := argsInput(t)

	if _, err := WriteInput(dir, in, TargetYAML, false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := WriteInput(dir, in, TargetYAML, false); err == nil {
		t.Fatal("expected refusal without force")
	}
	if _, err := WriteInput(dir, in, TargetYAML, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
}

func TestWriteInputMarkdownLoads(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteInput(dir, argsInput(t), TargetMD, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "bslive.md" {
		t.Errorf("path = %q", path)
	}
	if _, err := NewLoader().Load(path); err != nil {
		t.Fatalf("markdown form does not load: %v", err)
	}
}

func TestWriteInputTOML(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteInput(dir, argsInput(t), TargetTOML, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)
	if !strings.Contains(text, "[[servers]]") {
		t.Errorf("expected servers tables: %q", text)
	}
	if !strings.Contains(text, "http://example.com") {
		t.Errorf("proxy target missing: %q", text)
	}
}

func TestWriteInputHTMLRequiresPlayground(t *testing.T) {
	if _, err := EncodeInput(argsInput(t), TargetHTML); err == nil {
		t.Fatal("html target without a playground must fail")
	}

	in := &Input{Servers: []ServerConfig{{
		ServerIdentity: ServerIdentity{Name: "pg"},
		Playground: &Playground{
			HTML: "<html><head></head><body><h1>hi</h1></body></html>",
			CSS:  "h1 { color: red; }",
			JS:   "console.log(1);",
		},
	}}}
	body, err := EncodeInput(in, TargetHTML)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	page := string(body)
	if !strings.Contains(page, "<style>") || !strings.Contains(page, "color: red") {
		t.Errorf("css not inlined: %q", page)
	}
	if !strings.Contains(page, `<script type="module">`) || !strings.Contains(page, "console.log(1);") {
		t.Errorf("js not inlined: %q", page)
	}
}

func TestParseTarget(t *testing.T) {
	cases := map[string]Target{
		"":     TargetYAML,
		"yaml": TargetYAML,
		"toml": TargetTOML,
		"md":   TargetMD,
		"html": TargetHTML,
	}
	for in, want := range cases {
		got, err := ParseTarget(in)
		if err != nil || got != want {
			t.Errorf("ParseTarget(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseTarget("json"); err == nil {
		t.Error("unknown target should be rejected")
	}
}
