package server

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/devloop-sh/devloop/internal/config"
)

var routeListTmpl = template.Must(template.New("routes").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Not Found</title>
  <link rel="stylesheet" href="/dist/index.css">
</head>
<body>
  <h1>404 — no route matched</h1>
  <p>This server currently serves the following routes:</p>
  <ul>
{{- range .}}
    <li><a href="{{.Path}}"><code>{{.Path}}</code></a> <small>{{.Kind}}</small></li>
{{- end}}
  </ul>
</body>
</html>
`))

type routeListItem struct {
	Path string
	Kind config.RouteKind
}

// renderRouteList produces the 404 page body for the current route set.
func renderRouteList(routeSet []config.Route) string {
	items := make([]routeListItem, 0, len(routeSet))
	for i := range routeSet {
		r := &routeSet[i]
		items = append(items, routeListItem{Path: r.PathOrDefault(), Kind: r.Kind()})
	}
	var b strings.Builder
	if err := routeListTmpl.Execute(&b, items); err != nil {
		return "<!doctype html><html><body><h1>404</h1></body></html>"
	}
	return b.String()
}

// notFoundCapture runs next and, when the final status is 404, replaces the
// body with an HTML listing of the server's current routes.
func (s *Server) notFoundCapture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bw := newBufferedResponse()
		next.ServeHTTP(bw, r)
		if bw.status() != http.StatusNotFound {
			bw.copyTo(w)
			return
		}
		markup := renderRouteList(s.currentRoutes())
		h := w.Header()
		h.Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(markup))
	})
}
