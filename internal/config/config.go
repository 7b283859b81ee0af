package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Input is an immutable, validated description of the desired server fleet.
// A new Input is produced on every load or reload; running servers are then
// reconciled against it.
type Input struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerIdentity is the stable key of a server across reloads: either a
// human-readable name or an explicit bind address.
type ServerIdentity struct {
	Name string `yaml:"name,omitempty"`
	Bind string `yaml:"bind,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Key returns the stable reconciliation key. Named servers compare by name,
// address servers by canonical host:port.
func (id ServerIdentity) Key() string {
	if id.Name != "" {
		return "name:" + id.Name
	}
	return "addr:" + id.Addr()
}

// Addr returns the bind address for this identity. Unnamed servers without a
// port bind an ephemeral one.
func (id ServerIdentity) Addr() string {
	if id.Bind != "" {
		if _, _, err := net.SplitHostPort(id.Bind); err == nil {
			return id.Bind
		}
		return id.Bind + ":0"
	}
	return "0.0.0.0:" + strconv.Itoa(id.Port)
}

func (id ServerIdentity) String() string {
	if id.Name != "" {
		return id.Name
	}
	return id.Addr()
}

// ServerConfig describes one server: its identity, routes, optional
// playground, watchers, and browser-client config.
type ServerConfig struct {
	ServerIdentity `yaml:",inline"`
	Routes         []Route         `yaml:"routes,omitempty"`
	Playground     *Playground     `yaml:"playground,omitempty"`
	Watchers       []WatcherConfig `yaml:"watchers,omitempty"`
	Client         ClientConfig    `yaml:"client,omitempty"`
}

// Identity returns the server's reconciliation identity.
func (sc *ServerConfig) Identity() ServerIdentity {
	return sc.ServerIdentity
}

// RouteSet returns the effective ordered route list: playground-derived
// routes first, then the declared routes.
func (sc *ServerConfig) RouteSet() []Route {
	if sc.Playground == nil {
		return sc.Routes
	}
	routes := sc.Playground.Routes()
	return append(routes, sc.Routes...)
}

// RouteKind discriminates what a route serves.
type RouteKind string

const (
	KindHTML  RouteKind = "html"
	KindRaw   RouteKind = "raw"
	KindDir   RouteKind = "dir"
	KindProxy RouteKind = "proxy"
)

// Route is a path pattern plus the resource it serves and the response
// effects applied on the way out. Routes are matched in declared order; the
// first match whose guards accept the request wins.
type Route struct {
	Path string `yaml:"path,omitempty"`

	// exactly one of these selects the RouteKind
	HTML  string `yaml:"html,omitempty"`
	Raw   string `yaml:"raw,omitempty"`
	Dir   string `yaml:"dir,omitempty"`
	Proxy string `yaml:"proxy,omitempty"`

	// mime applies to raw routes only
	Mime string `yaml:"mime,omitempty"`

	Opts     `yaml:",inline"`
	WhenBody *BodyGuard `yaml:"when_body,omitempty"`
}

// Kind returns the discriminated kind of this route. Routes declaring no
// resource are inline HTML with an empty body.
func (r *Route) Kind() RouteKind {
	switch {
	case r.Dir != "":
		return KindDir
	case r.Proxy != "":
		return KindProxy
	case r.Raw != "":
		return KindRaw
	default:
		return KindHTML
	}
}

// PathOrDefault returns the route path, defaulting to "/".
func (r *Route) PathOrDefault() string {
	if r.Path == "" {
		return "/"
	}
	return r.Path
}

// Opts are the per-route response options.
type Opts struct {
	Cache   CacheOpt          `yaml:"cache,omitempty"`
	CORS    bool              `yaml:"cors,omitempty"`
	DelayMS uint64            `yaml:"delay.ms,omitempty"`
	Inject  InjectOpts        `yaml:"inject,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// CacheOpt controls the cache-suppression headers added to responses.
type CacheOpt string

const (
	// CachePrevent adds headers that stop browsers caching the response.
	// This is the default behaviour.
	CachePrevent CacheOpt = "prevent"
	// CacheDefault adds nothing.
	CacheDefault CacheOpt = "default"
)

// OrDefault resolves the zero value to CachePrevent.
func (c CacheOpt) OrDefault() CacheOpt {
	if c == "" {
		return CachePrevent
	}
	return c
}

// BodyGuard gates a route on the request body. Currently: the body is JSON
// and, when Matches is set, each dot-path resolves to the given value.
type BodyGuard struct {
	JSON    bool              `yaml:"json"`
	Matches map[string]string `yaml:"matches,omitempty"`
}

// UnmarshalYAML accepts either the scalar `json` or the structured form.
func (g *BodyGuard) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err == nil {
		if s != "json" {
			return fmt.Errorf("unknown when_body guard %q", s)
		}
		g.JSON = true
		return nil
	}
	type plain BodyGuard
	var p plain
	if err := yaml.Unmarshal(b, &p); err != nil {
		return err
	}
	*g = BodyGuard(p)
	return nil
}

// Builtin injection names.
const (
	BuiltinConnector   = "bslive:connector"
	BuiltinJSConnector = "bslive:js-connector"
)

// InjectOpts selects the response-body injections for a route. The YAML form
// is either a bool (true enables the default connector) or a list of builtin
// names and inline definitions.
type InjectOpts struct {
	set   bool
	off   bool
	items []Injection
}

// Injection is one byte-replacement applied to a matching response body.
// Exactly one of the position fields is set; builtins are referenced by Name
// alone.
type Injection struct {
	Name    string `yaml:"name,omitempty"`
	Append  string `yaml:"append,omitempty"`
	Prepend string `yaml:"prepend,omitempty"`
	Before  string `yaml:"before,omitempty"`
	After   string `yaml:"after,omitempty"`
	Replace string `yaml:"replace,omitempty"`
	Content string `yaml:"content,omitempty"`
}

// Injections returns the effective injection list. Unset defaults to the
// connector builtin.
func (o InjectOpts) Injections() []Injection {
	if o.off {
		return nil
	}
	if !o.set || len(o.items) == 0 {
		return []Injection{{Name: BuiltinConnector}}
	}
	return o.items
}

// Explicit returns an InjectOpts carrying exactly the given injections.
func Explicit(items ...Injection) InjectOpts {
	return InjectOpts{set: true, items: items}
}

// NoInject returns an InjectOpts that disables all injection.
func NoInject() InjectOpts {
	return InjectOpts{set: true, off: true}
}

// UnmarshalYAML accepts `inject: false`, `inject: true`, or a list of
// builtin names and inline definitions.
func (o *InjectOpts) UnmarshalYAML(b []byte) error {
	var asBool bool
	if err := yaml.Unmarshal(b, &asBool); err == nil {
		o.set = true
		o.off = !asBool
		return nil
	}
	// list items may be scalars (builtin names) or maps; decode generically
	var anyList []interface{}
	if err := yaml.Unmarshal(b, &anyList); err != nil {
		return err
	}
	o.set = true
	for _, item := range anyList {
		switch v := item.(type) {
		case string:
			o.items = append(o.items, Injection{Name: v})
		default:
			enc, err := yaml.Marshal(item)
			if err != nil {
				return err
			}
			var inj Injection
			if err := yaml.Unmarshal(enc, &inj); err != nil {
				return err
			}
			o.items = append(o.items, inj)
		}
	}
	return nil
}

// MarshalYAML round-trips the list form.
func (o InjectOpts) MarshalYAML() ([]byte, error) {
	if !o.set {
		return yaml.Marshal(true)
	}
	if o.off {
		return yaml.Marshal(false)
	}
	return yaml.Marshal(o.items)
}

// WatcherConfig is a directory to watch plus its filter/debounce spec and the
// tasks to run when a batch fires.
type WatcherConfig struct {
	Dir        string    `yaml:"dir"`
	Ext        string    `yaml:"ext,omitempty"`
	Glob       string    `yaml:"glob,omitempty"`
	DebounceMS int       `yaml:"debounce.ms,omitempty"`
	Run        []RunItem `yaml:"run,omitempty"`
}

// Debounce returns the debounce window, defaulting to 50ms.
func (w *WatcherConfig) Debounce() int {
	if w.DebounceMS <= 0 {
		return 50
	}
	return w.DebounceMS
}

// RunItem is one entry of a watcher's task list: a shell command, a server
// notification, an external-event emission, or a nested group.
type RunItem struct {
	Sh          string         `yaml:"sh,omitempty"`
	Notify      bool           `yaml:"notify,omitempty"`
	Emit        map[string]any `yaml:"emit,omitempty"`
	Seq         *RunGroup      `yaml:"seq,omitempty"`
	Overlapping *RunGroup      `yaml:"overlapping,omitempty"`
}

// RunGroup is a nested task scope.
type RunGroup struct {
	ExitOnFailure bool      `yaml:"exit_on_failure,omitempty"`
	Run           []RunItem `yaml:"run"`
}

// UnmarshalYAML accepts the scalar shorthand forms: "notify", or any other
// string as a shell command.
func (ri *RunItem) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err == nil {
		if s == "notify" {
			ri.Notify = true
		} else {
			ri.Sh = s
		}
		return nil
	}
	type plain RunItem
	var p plain
	if err := yaml.Unmarshal(b, &p); err != nil {
		return err
	}
	*ri = RunItem(p)
	return nil
}

// ClientConfig is the configuration forwarded to connected browser clients.
type ClientConfig struct {
	Log string `yaml:"log,omitempty"`
}

// ChangesetFor returns the client-config changes between two snapshots.
func (c ClientConfig) ChangesetFor(next ClientConfig) []ClientConfig {
	if c == next {
		return nil
	}
	return []ClientConfig{next}
}

// Playground is inline HTML/CSS/JS composed into a default route set.
type Playground struct {
	HTML string `yaml:"html,omitempty"`
	CSS  string `yaml:"css,omitempty"`
	JS   string `yaml:"js,omitempty"`
}

const (
	playgroundJSPath  = "/__bslive_playground.js"
	playgroundCSSPath = "/__bslive_playground.css"
)

// Routes lowers the playground into its route set: the page at "/", plus the
// js and css assets on reserved paths. The page links both assets.
func (p *Playground) Routes() []Route {
	page := p.HTML
	if p.CSS != "" {
		page = withHeadTag(page, `<link rel="stylesheet" href="`+playgroundCSSPath+`">`)
	}
	if p.JS != "" {
		page = withBodyTag(page, `<script type="module" src="`+playgroundJSPath+`"></script>`)
	}
	routes := []Route{{Path: "/", HTML: page}}
	if p.JS != "" {
		routes = append(routes, Route{
			Path: playgroundJSPath,
			Raw:  p.JS,
			Mime: "application/javascript",
			Opts: Opts{Inject: NoInject()},
		})
	}
	if p.CSS != "" {
		routes = append(routes, Route{
			Path: playgroundCSSPath,
			Raw:  p.CSS,
			Mime: "text/css",
			Opts: Opts{Inject: NoInject()},
		})
	}
	return routes
}

// withHeadTag inserts markup before </head>, or prepends when the document
// has no head element.
func withHeadTag(doc, tag string) string {
	if strings.Contains(doc, "</head>") {
		return strings.Replace(doc, "</head>", tag+"</head>", 1)
	}
	return tag + doc
}

// withBodyTag inserts markup before </body>, or appends.
func withBodyTag(doc, tag string) string {
	if strings.Contains(doc, "</body>") {
		return strings.Replace(doc, "</body>", tag+"</body>", 1)
	}
	return doc + tag
}
