// Package example scaffolds ready-to-run example projects.
package example

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devloop-sh/devloop/internal/config"
)

// Kind names a scaffold variant.
type Kind string

const (
	Basic      Kind = "basic"
	Lit        Kind = "lit"
	Markdown   Kind = "md"
	Playground Kind = "playground"
)

// Options controls scaffolding.
type Options struct {
	Kind   Kind
	Dir    string
	Temp   bool   // scaffold into a fresh temp dir instead of Dir
	Name   string // project name used in the generated input
	Target string // yaml | toml | md | html
}

// Scaffold writes the example and returns the directory it landed in.
func Scaffold(opts Options) (string, error) {
	dir := opts.Dir
	if opts.Temp {
		tmp, err := os.MkdirTemp("", "devloop-example-")
		if err != nil {
			return "", err
		}
		dir = tmp
	}
	if dir == "" {
		return "", fmt.Errorf("example requires --dir or --temp")
	}
	name := opts.Name
	if name == "" {
		name = string(opts.Kind)
	}

	files, err := render(opts.Kind, name)
	if err != nil {
		return "", err
	}
	target, err := config.ParseTarget(opts.Target)
	if err != nil {
		return "", err
	}

	inputBody := files["input"]
	delete(files, "input")
	switch target {
	case config.TargetYAML:
		files[target.Filename(config.InputBase)] = inputBody
	case config.TargetMD:
		files[target.Filename(config.InputBase)] = "# " + name + "\n\n```yaml\n" + inputBody + "```\n"
	default:
		// toml and html are serialisations of the parsed input
		in, err := config.Decode([]byte(inputBody))
		if err != nil {
			return "", err
		}
		body, err := config.EncodeInput(in, target)
		if err != nil {
			return "", err
		}
		files[target.Filename(config.InputBase)] = string(body)
	}

	for rel, body := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func render(kind Kind, name string) (map[string]string, error) {
	switch kind {
	case Basic:
		return map[string]string{
			"input": strings.ReplaceAll(basicInput, "{{name}}", name),
			"public/index.html": `<!doctype html>
<html>
<head><title>` + name + `</title><link rel="stylesheet" href="/styles.css"></head>
<body><h1>` + name + `</h1></body>
</html>
`,
			"public/styles.css": "body { font-family: sans-serif; }\n",
		}, nil
	case Lit:
		return map[string]string{
			"input": strings.ReplaceAll(litInput, "{{name}}", name),
			"src/app-root.js": `import { LitElement, html } from "https://esm.sh/lit";

class AppRoot extends LitElement {
  render() {
    return html` + "`<h1>" + name + "</h1>`" + `;
  }
}
customElements.define("app-root", AppRoot);
`,
			"index.html": `<!doctype html>
<html>
<body><app-root></app-root><script type="module" src="/src/app-root.js"></script></body>
</html>
`,
		}, nil
	case Markdown:
		return map[string]string{
			"input": strings.ReplaceAll(mdInput, "{{name}}", name),
		}, nil
	case Playground:
		return map[string]string{
			"input": strings.ReplaceAll(playgroundInput, "{{name}}", name),
		}, nil
	default:
		return nil, fmt.Errorf("unknown example %q", kind)
	}
}

const basicInput = `servers:
  - name: {{name}}
    port: 3000
    routes:
      - path: /
        dir: ./public
    watchers:
      - dir: ./public
        debounce.ms: 50
`

const litInput = `servers:
  - name: {{name}}
    port: 3000
    routes:
      - path: /
        dir: .
    watchers:
      - dir: ./src
        ext: js
`

const mdInput = `servers:
  - name: {{name}}
    port: 3000
    routes:
      - path: /
        html: "<!doctype html><html><body><h1>{{name}}</h1></body></html>"
`

const playgroundInput = `servers:
  - name: {{name}}
    port: 3000
    playground:
      html: |
        <!doctype html>
        <html>
        <head><title>{{name}}</title></head>
        <body><h1>playground</h1></body>
        </html>
      css: |
        h1 { color: rebeccapurple; }
      js: |
        console.log("playground ready");
`
