package server

import (
	"embed"
	"net/http"
)

// Reserved paths every server exposes in addition to its configured routes.
const (
	wsPath          = "/__bs"
	jsConnectorPath = "/__bs_js"
	distJSPath      = "/dist/index.js"
	distCSSPath     = "/dist/index.css"
)

//go:embed assets
var assetFS embed.FS

// snippetHTML is the markup the connector injects before </body>.
var snippetHTML = func() string {
	b, err := assetFS.ReadFile("assets/snippet.html")
	if err != nil {
		panic(err)
	}
	return string(b)
}()

// serveAsset serves one embedded bundle file with a fixed content type.
func serveAsset(name, contentType string) http.HandlerFunc {
	body, err := assetFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Write(body)
	}
}
