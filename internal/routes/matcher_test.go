package routes

import (
	"testing"

	"github.com/devloop-sh/devloop/internal/config"
)

func TestFirstMatchOrder(t *testing.T) {
	m := Compile([]config.Route{
		{Path: "/a", HTML: "first"},
		{Path: "/a", HTML: "second"},
		{Path: "/b", HTML: "other"},
	})

	got := m.Match("/a")
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].HTML != "first" || got[1].HTML != "second" {
		t.Errorf("declaration order not preserved: %+v", got)
	}
}

func TestDefaultPath(t *testing.T) {
	m := Compile([]config.Route{{HTML: "root"}})
	if got := m.Match("/"); len(got) != 1 {
		t.Fatalf("route with no path should default to /, got %v", got)
	}
	if got := m.Match("/sub"); len(got) != 0 {
		t.Errorf("inline route at / must not claim subpaths, got %v", got)
	}
}

func TestDirRouteClaimsSubpaths(t *testing.T) {
	m := Compile([]config.Route{{Path: "/static", Dir: "./public"}})
	if got := m.Match("/static/css/app.css"); len(got) != 1 {
		t.Errorf("dir route should match below its mount, got %v", got)
	}
	if got := m.Match("/static"); len(got) != 1 {
		t.Errorf("dir route should match its mount, got %v", got)
	}
	if got := m.Match("/staticfiles"); len(got) != 0 {
		t.Errorf("prefix match must be segment-aware, got %v", got)
	}
}

func TestRootDirRoute(t *testing.T) {
	m := Compile([]config.Route{{Path: "/", Dir: "."}})
	if got := m.Match("/deep/nested/file.txt"); len(got) != 1 {
		t.Errorf("root dir route should claim everything, got %v", got)
	}
}

func TestGlobPattern(t *testing.T) {
	m := Compile([]config.Route{{Path: "/api/*/detail", HTML: "x"}})
	if got := m.Match("/api/users/detail"); len(got) != 1 {
		t.Errorf("glob should match one segment, got %v", got)
	}
	if got := m.Match("/api/users/extra/detail"); len(got) != 0 {
		t.Errorf("single * must not cross segments, got %v", got)
	}
}

func TestInlineRouteBeforeDir(t *testing.T) {
	m := Compile([]config.Route{
		{Path: "/static/banner.html", HTML: "inline wins"},
		{Path: "/static", Dir: "./public"},
	})
	got := m.Match("/static/banner.html")
	if len(got) != 2 || got[0].HTML != "inline wins" {
		t.Fatalf("declared order must win: %+v", got)
	}
}
