package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/middleware"
)

// buildHandler assembles the fixed outer chain. The websocket endpoint sits
// outside the not-found capture because an upgrade cannot run through a
// buffering writer.
func (s *Server) buildHandler() http.Handler {
	inner := http.NewServeMux()
	inner.HandleFunc(distJSPath, serveAsset("assets/index.js", "application/javascript"))
	inner.HandleFunc(distCSSPath, serveAsset("assets/index.css", "text/css"))
	inner.HandleFunc(jsConnectorPath, serveAsset("assets/connector.js", "application/javascript"))
	inner.HandleFunc("/", s.dispatch)

	outer := http.NewServeMux()
	outer.HandleFunc(wsPath, s.hub.wsHandler())
	outer.Handle("/", middleware.NewChain(s.notFoundCapture).Then(inner))

	return middleware.NewChain(s.dynamicDelay).Then(outer)
}

// dynamicDelay recognises the bslive.delay.ms query parameter and sleeps
// before dispatching. The query value takes precedence over any route delay.
func (s *Server) dynamicDelay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d, ok := queryDelay(r); ok {
			sleepFor(r.Context(), d)
		}
		next.ServeHTTP(w, r)
	})
}

// dispatch selects the first route whose pattern and guards accept the
// request and serves it with the route's effects applied.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	matcher := s.leaseMatcher()
	candidates := matcher.Match(r.URL.Path)
	if len(candidates) == 0 {
		http.NotFound(w, r)
		return
	}

	var (
		bodyBytes []byte
		bodyRead  bool
	)
	for i := range candidates {
		route := &candidates[i]
		if route.WhenBody != nil {
			if !bodyRead {
				bodyBytes, _ = io.ReadAll(r.Body)
				r.Body.Close()
				bodyRead = true
			}
			if !guardAccepts(route.WhenBody, bodyBytes) {
				// a failed guard falls through to the next matching route
				continue
			}
		}
		if bodyRead {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		s.serveRoute(w, r, route)
		return
	}
	http.NotFound(w, r)
}

// guardAccepts applies a when_body guard to the buffered request body.
func guardAccepts(g *config.BodyGuard, body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	for path, want := range g.Matches {
		if gjson.GetBytes(body, path).String() != want {
			return false
		}
	}
	return true
}

// serveRoute produces the inner response into a buffer, layers the route's
// effects over it, then writes it out. The delay effect applies after the
// response is produced but before it is returned.
func (s *Server) serveRoute(w http.ResponseWriter, r *http.Request, route *config.Route) {
	bw := newBufferedResponse()
	s.serveKind(bw, r, route)

	replacers := buildReplacers(route.Inject.Injections())
	bw.writeBody(applyInjections(replacers, r, bw.header, bw.body()))

	// proxied responses keep the upstream's cache headers
	if route.Kind() != config.KindProxy {
		applyCache(bw.header, route.Cache)
	}
	if route.CORS {
		applyCORS(bw.header)
	}
	for k, v := range route.Headers {
		bw.header.Set(k, v)
	}

	sleepFor(r.Context(), routeDelay(route, r))
	bw.copyTo(w)
}
