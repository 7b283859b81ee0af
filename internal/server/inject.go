package server

import (
	"bytes"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/logging"
)

// replacer is one element of the body-injection pipeline. Guards decide per
// request/response pair whether the replacement applies at all.
type replacer interface {
	name() string
	acceptReq(r *http.Request) bool
	acceptRes(header http.Header) bool
	apply(body string) string
}

// acceptsHTML reports whether the request's Accept header asks for HTML.
func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isHTML reports whether the response content type is HTML.
func isHTML(header http.Header) bool {
	return strings.HasPrefix(header.Get("Content-Type"), "text/html")
}

// isJS reports whether the response content type is JavaScript.
func isJS(header http.Header) bool {
	return strings.Contains(header.Get("Content-Type"), "javascript")
}

// connector injects the live-reload snippet before </body> on HTML
// responses to HTML-accepting requests.
type connector struct{}

func (connector) name() string                      { return config.BuiltinConnector }
func (connector) acceptReq(r *http.Request) bool    { return acceptsHTML(r) }
func (connector) acceptRes(header http.Header) bool { return isHTML(header) }
func (connector) apply(body string) string {
	return strings.Replace(body, "</body>",
		"<!-- source: snippet.html-->"+snippetHTML+"<!-- end: snippet.html-->\n</body>", 1)
}

// jsConnector appends an import of the JS connector module to JavaScript
// responses, whatever the request accepted.
type jsConnector struct{}

func (jsConnector) name() string                      { return config.BuiltinJSConnector }
func (jsConnector) acceptReq(*http.Request) bool      { return true }
func (jsConnector) acceptRes(header http.Header) bool { return isJS(header) }
func (jsConnector) apply(body string) string {
	return body + ";\n;import('" + jsConnectorPath + "').catch(console.error);\n"
}

// definedReplacer is a user-declared injection: append/prepend, or a
// replacement anchored on a marker. Guards follow the HTML defaults.
type definedReplacer struct {
	def config.Injection
}

func (d definedReplacer) name() string {
	if d.def.Name != "" {
		return d.def.Name
	}
	return "inject"
}
func (definedReplacer) acceptReq(r *http.Request) bool    { return acceptsHTML(r) }
func (definedReplacer) acceptRes(header http.Header) bool { return isHTML(header) }

func (d definedReplacer) apply(body string) string {
	def := d.def
	switch {
	case def.Append != "":
		return body + def.Append
	case def.Prepend != "":
		return def.Prepend + body
	case def.Before != "":
		return strings.ReplaceAll(body, def.Before, def.Content+def.Before)
	case def.After != "":
		return strings.ReplaceAll(body, def.After, def.After+def.Content)
	case def.Replace != "":
		return strings.ReplaceAll(body, def.Replace, def.Content)
	default:
		return body
	}
}

// buildReplacers lowers the route's injection list into the pipeline.
func buildReplacers(items []config.Injection) []replacer {
	out := make([]replacer, 0, len(items))
	for _, item := range items {
		switch item.Name {
		case config.BuiltinConnector:
			if item.Append == "" && item.Prepend == "" && item.Before == "" &&
				item.After == "" && item.Replace == "" {
				out = append(out, connector{})
				continue
			}
			out = append(out, definedReplacer{def: item})
		case config.BuiltinJSConnector:
			out = append(out, jsConnector{})
		default:
			out = append(out, definedReplacer{def: item})
		}
	}
	return out
}

// applyInjections runs the pipeline over a fully buffered response body.
// Bodies are decoded to UTF-8 in memory before replacement — the whole
// response is buffered first, which is the cost of correct replacement on
// streaming upstreams. Non-UTF-8 bodies are passed through with a warning.
// Gzip-encoded upstream bodies are transparently decoded first.
func applyInjections(replacers []replacer, r *http.Request, header http.Header, body []byte) []byte {
	var applicable []replacer
	for _, rep := range replacers {
		if rep.acceptReq(r) && rep.acceptRes(header) {
			applicable = append(applicable, rep)
		}
	}
	if len(applicable) == 0 {
		return body
	}

	if strings.EqualFold(header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			logging.Warn("skipping injection: gzip body could not be decoded", zap.Error(err))
			return body
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(zr); err != nil {
			logging.Warn("skipping injection: gzip body could not be decoded", zap.Error(err))
			return body
		}
		zr.Close()
		body = buf.Bytes()
		header.Del("Content-Encoding")
	} else if header.Get("Content-Encoding") != "" {
		logging.Warn("skipping injection: unsupported content encoding",
			zap.String("encoding", header.Get("Content-Encoding")))
		return body
	}

	if !utf8.Valid(body) {
		logging.Warn("skipping injection: body was not UTF-8")
		return body
	}

	next := string(body)
	for _, rep := range applicable {
		next = rep.apply(next)
	}
	return []byte(next)
}
