// Package routes implements the ordered route matcher. Route declaration
// order is authoritative: the matcher yields every candidate for a request
// path in declared order, and the request pipeline takes the first one whose
// guards accept the request.
package routes

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/devloop-sh/devloop/internal/config"
)

// Matcher is a compiled, immutable view of a server's route list. A new
// Matcher is compiled on every patch and swapped in under the routes write
// lease, so request handlers never observe a half-updated state.
type Matcher struct {
	compiled []compiledRoute
}

type compiledRoute struct {
	route   config.Route
	pattern string
	glob    bool
}

// Compile builds a matcher over routes, preserving declaration order.
func Compile(routeSet []config.Route) *Matcher {
	compiled := make([]compiledRoute, 0, len(routeSet))
	for _, r := range routeSet {
		pattern := r.PathOrDefault()
		compiled = append(compiled, compiledRoute{
			route:   r,
			pattern: pattern,
			glob:    strings.ContainsAny(pattern, "*?["),
		})
	}
	return &Matcher{compiled: compiled}
}

// Routes returns the route list backing this matcher, in declared order.
func (m *Matcher) Routes() []config.Route {
	out := make([]config.Route, len(m.compiled))
	for i, c := range m.compiled {
		out[i] = c.route
	}
	return out
}

// Match returns the candidates for path, in declared order. Guard
// evaluation (when_body) is the caller's job: a rejected candidate falls
// through to the next one.
func (m *Matcher) Match(path string) []config.Route {
	var out []config.Route
	for _, c := range m.compiled {
		if c.matches(path) {
			out = append(out, c.route)
		}
	}
	return out
}

// matches applies the pattern rules: glob patterns match the whole path via
// doublestar; a plain "/" matches the root, and for dir/proxy routes every
// path; any other plain pattern matches itself and, for dir/proxy routes,
// everything below it.
func (c *compiledRoute) matches(path string) bool {
	if c.glob {
		ok, err := doublestar.Match(c.pattern, path)
		return err == nil && ok
	}
	if c.pattern == "/" {
		if path == "/" {
			return true
		}
		// served directories and proxies mounted at the root claim the
		// whole path space
		kind := c.route.Kind()
		return kind == config.KindDir || kind == config.KindProxy
	}
	if path == c.pattern {
		return true
	}
	kind := c.route.Kind()
	if kind == config.KindDir || kind == config.KindProxy {
		return strings.HasPrefix(path, strings.TrimSuffix(c.pattern, "/")+"/")
	}
	return false
}
