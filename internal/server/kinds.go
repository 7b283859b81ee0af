package server

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/logging"
)

// serveKind emits the route's response into w (a buffered writer; effects
// run afterwards over the captured body).
func (s *Server) serveKind(w http.ResponseWriter, r *http.Request, route *config.Route) {
	switch route.Kind() {
	case config.KindHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, route.HTML)
	case config.KindRaw:
		w.Header().Set("Content-Type", route.Mime)
		w.Header().Set(MetaDataHeader, MetaServedRaw)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, route.Raw)
	case config.KindDir:
		s.serveDir(w, r, route)
	case config.KindProxy:
		s.serveProxy(w, r, route)
	}
}

// serveDir serves a file from disk rooted at the route's directory. Requests
// resolving outside the root are refused.
func (s *Server) serveDir(w http.ResponseWriter, r *http.Request, route *config.Route) {
	if strings.Contains(r.URL.Path, "..") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	root, err := filepath.Abs(route.Dir)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// strip the mount prefix so /static/a.js inside dir-route /static
	// resolves to <root>/a.js
	rel := r.URL.Path
	if mount := route.PathOrDefault(); mount != "/" {
		rel = strings.TrimPrefix(rel, strings.TrimSuffix(mount, "/"))
	}
	full := filepath.Join(root, filepath.Clean("/"+rel))
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.IsDir() {
		index := filepath.Join(full, "index.html")
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		full = index
		info, _ = os.Stat(full)
	}

	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set(MetaDataHeader, MetaServedFile)
	http.ServeContent(w, r, full, info.ModTime(), f)
}

// hopHeaders are stripped in both directions when proxying.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var proxyTransport = &http.Transport{
	MaxIdleConns:          32,
	IdleConnTimeout:       90 * time.Second,
	ResponseHeaderTimeout: 30 * time.Second,
}

// serveProxy forwards the request to the route's upstream authority,
// rewriting Host and preserving method, headers, and body. The response is
// copied into the buffered writer so injection can still apply.
func (s *Server) serveProxy(w http.ResponseWriter, r *http.Request, route *config.Route) {
	upstream, err := url.Parse(route.Proxy)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	target := *r.URL
	target.Scheme = upstream.Scheme
	target.Host = upstream.Host
	if upstream.Path != "" && upstream.Path != "/" {
		target.Path = singleJoinSlash(upstream.Path, target.Path)
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Host = upstream.Host

	resp, err := proxyTransport.RoundTrip(out)
	if err != nil {
		logging.Warn("proxy upstream failed",
			zap.String("upstream", route.Proxy), zap.Error(err))
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = vs
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Set(MetaDataHeader, MetaProxied)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// singleJoinSlash joins two URL path segments with exactly one slash.
func singleJoinSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
