// Package export materialises an input's inline routes as files on disk.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
)

// Options controls an export run.
type Options struct {
	Dir    string
	DryRun bool
	Force  bool
}

// Export writes every inline (html/raw) route of every server under
// opts.Dir and returns the written paths. Existing files are refused unless
// Force; DryRun returns the plan without touching disk.
func Export(input *config.Input, opts Options) ([]string, error) {
	if opts.Dir == "" {
		return nil, errors.NewInputError(errors.Validation, "", "export requires a target dir")
	}

	type item struct {
		rel  string
		body string
	}
	var plan []item
	seen := make(map[string]bool)
	for i := range input.Servers {
		sc := &input.Servers[i]
		for _, r := range sc.RouteSet() {
			var body string
			switch r.Kind() {
			case config.KindHTML:
				body = r.HTML
			case config.KindRaw:
				body = r.Raw
			default:
				continue
			}
			rel := fileFor(r.PathOrDefault(), r.Kind())
			if seen[rel] {
				continue
			}
			seen[rel] = true
			plan = append(plan, item{rel: rel, body: body})
		}
	}

	written := make([]string, 0, len(plan))
	for _, it := range plan {
		full := filepath.Join(opts.Dir, it.rel)
		written = append(written, full)
		if opts.DryRun {
			continue
		}
		if _, err := os.Stat(full); err == nil && !opts.Force {
			return nil, fmt.Errorf("refusing to overwrite %s (use --force)", full)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(it.body), 0o644); err != nil {
			return nil, err
		}
	}
	return written, nil
}

// fileFor maps a route path onto a relative file path. The root route
// becomes index.html; extension-less html routes gain one.
func fileFor(path string, kind config.RouteKind) string {
	rel := strings.TrimPrefix(path, "/")
	if rel == "" {
		return "index.html"
	}
	if strings.HasSuffix(rel, "/") {
		return rel + "index.html"
	}
	if filepath.Ext(rel) == "" && kind == config.KindHTML {
		return rel + ".html"
	}
	return rel
}
