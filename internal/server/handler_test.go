package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devloop-sh/devloop/internal/config"
)

func testServer(t *testing.T, routes ...config.Route) *Server {
	t.Helper()
	return New(config.ServerConfig{
		ServerIdentity: config.ServerIdentity{Name: "test"},
		Routes:         routes,
	})
}

func get(h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCacheHeadersDefaultPrevent(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/", HTML: "hello"},
		config.Route{Path: "/other", HTML: "other", Opts: config.Opts{
			Cache:   config.CacheDefault,
			Headers: map[string]string{"Cache-Control": "public,max-age=60"},
		}},
	)
	h := s.buildHandler()

	rec := get(h, "/", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store, no-cache, must-revalidate" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if rec.Header().Get("Pragma") != "no-cache" || rec.Header().Get("Expires") != "0" {
		t.Errorf("missing cache suppression headers: %v", rec.Header())
	}

	rec = get(h, "/other", nil)
	if cc := rec.Header().Get("Cache-Control"); cc != "public,max-age=60" {
		t.Errorf("declared Cache-Control lost: %q", cc)
	}
	if rec.Header().Get("Pragma") != "" || rec.Header().Get("Expires") != "" {
		t.Errorf("cache:default must add nothing: %v", rec.Header())
	}
}

func TestDelayPrecedence(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/", HTML: "fast"},
		config.Route{Path: "/slow", HTML: "slow", Opts: config.Opts{DelayMS: 120}},
	)
	h := s.buildHandler()

	start := time.Now()
	get(h, "/?bslive.delay.ms=200", nil)
	if d := time.Since(start); d < 200*time.Millisecond {
		t.Errorf("query delay not honoured: %v", d)
	}

	start = time.Now()
	get(h, "/", nil)
	if d := time.Since(start); d > 150*time.Millisecond {
		t.Errorf("undelayed request took %v", d)
	}

	start = time.Now()
	get(h, "/slow", nil)
	if d := time.Since(start); d < 120*time.Millisecond {
		t.Errorf("route delay not honoured: %v", d)
	}

	// query wins over route delay
	start = time.Now()
	get(h, "/slow?bslive.delay.ms=10", nil)
	if d := time.Since(start); d >= 120*time.Millisecond {
		t.Errorf("query should override route delay, took %v", d)
	}
}

func TestBodyGuardFallsThrough(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/api", HTML: `{"ok":true}`, WhenBody: &config.BodyGuard{JSON: true}},
		config.Route{Path: "/api", HTML: `"fallback"`},
	)
	h := s.buildHandler()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if got := post(`{"x":1}`).Body.String(); got != `{"ok":true}` {
		t.Errorf("json body = %q", got)
	}
	if got := post("not-json").Body.String(); got != `"fallback"` {
		t.Errorf("non-json body = %q", got)
	}
}

func TestBodyGuardShapeMatch(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/api", HTML: "order", WhenBody: &config.BodyGuard{
			JSON: true, Matches: map[string]string{"kind": "order"},
		}},
		config.Route{Path: "/api", HTML: "other"},
	)
	h := s.buildHandler()

	post := func(body string) string {
		req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Body.String()
	}

	if got := post(`{"kind":"order"}`); got != "order" {
		t.Errorf("matching shape = %q", got)
	}
	if got := post(`{"kind":"refund"}`); got != "other" {
		t.Errorf("non-matching shape = %q", got)
	}
}

func TestInjectionOnlyForMatchingContent(t *testing.T) {
	page := "<html><body><h1>hi</h1></body></html>"
	s := testServer(t,
		config.Route{Path: "/", HTML: page},
		config.Route{Path: "/data", Raw: `{"a":1}`, Mime: "application/json"},
	)
	h := s.buildHandler()

	// HTML-accepting request against an HTML response: injected exactly once
	rec := get(h, "/", map[string]string{"Accept": "text/html"})
	body := rec.Body.String()
	if n := strings.Count(body, "snippet.html"); n == 0 {
		t.Fatalf("connector not injected: %q", body)
	}
	if n := strings.Count(body, "<!-- source: snippet.html-->"); n != 1 {
		t.Errorf("connector injected %d times", n)
	}

	// non-HTML accept: untouched
	rec = get(h, "/", nil)
	if rec.Body.String() != page {
		t.Errorf("body modified for non-HTML accept: %q", rec.Body.String())
	}

	// non-HTML response: untouched even for an HTML-accepting request
	rec = get(h, "/data", map[string]string{"Accept": "text/html"})
	if rec.Body.String() != `{"a":1}` {
		t.Errorf("json body modified: %q", rec.Body.String())
	}
}

func TestJSConnectorInjection(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/app.js", Raw: "console.log(1)", Mime: "application/javascript",
			Opts: config.Opts{Inject: config.Explicit(config.Injection{Name: config.BuiltinJSConnector})}},
	)
	rec := get(s.buildHandler(), "/app.js", nil)
	if !strings.Contains(rec.Body.String(), "import('/__bs_js')") {
		t.Errorf("js connector missing: %q", rec.Body.String())
	}
}

func TestCustomInjections(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/", HTML: "<html><body>mid</body></html>", Opts: config.Opts{
			Inject: config.Explicit(
				config.Injection{Prepend: "A|"},
				config.Injection{Append: "|Z"},
				config.Injection{Before: "mid", Content: "<"},
				config.Injection{After: "mid", Content: ">"},
				config.Injection{Replace: "mid", Content: "MID"},
			),
		}},
	)
	rec := get(s.buildHandler(), "/", map[string]string{"Accept": "text/html"})
	body := rec.Body.String()
	if !strings.HasPrefix(body, "A|") || !strings.HasSuffix(body, "|Z") {
		t.Errorf("prepend/append missing: %q", body)
	}
	if !strings.Contains(body, "<MID>") {
		t.Errorf("before/after/replace pipeline = %q", body)
	}
}

func TestNotFoundListsRoutes(t *testing.T) {
	s := testServer(t,
		config.Route{Path: "/", HTML: "hello"},
		config.Route{Path: "/api", Proxy: "http://localhost:9999"},
	)
	rec := get(s.buildHandler(), "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "/api") || !strings.Contains(body, "proxy") {
		t.Errorf("route listing incomplete: %q", body)
	}
}

func TestRawRouteMetaData(t *testing.T) {
	s := testServer(t, config.Route{Path: "/bin", Raw: "abc", Mime: "application/octet-stream"})
	rec := get(s.buildHandler(), "/bin", nil)
	if rec.Header().Get(MetaDataHeader) != MetaServedRaw {
		t.Errorf("MetaData = %q", rec.Header().Get(MetaDataHeader))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestCORSEffect(t *testing.T) {
	s := testServer(t, config.Route{Path: "/", HTML: "x", Opts: config.Opts{CORS: true}})
	rec := get(s.buildHandler(), "/", nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("cors headers missing: %v", rec.Header())
	}
}

func TestDistAssets(t *testing.T) {
	s := testServer(t, config.Route{Path: "/", HTML: "x"})
	h := s.buildHandler()
	if rec := get(h, "/dist/index.js", nil); rec.Code != http.StatusOK ||
		!strings.Contains(rec.Header().Get("Content-Type"), "javascript") {
		t.Errorf("/dist/index.js = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := get(h, "/dist/index.css", nil); rec.Code != http.StatusOK ||
		!strings.Contains(rec.Header().Get("Content-Type"), "css") {
		t.Errorf("/dist/index.css = %d", rec.Code)
	}
	if rec := get(h, "/__bs_js", nil); rec.Code != http.StatusOK {
		t.Errorf("/__bs_js = %d", rec.Code)
	}
}
