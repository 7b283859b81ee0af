package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/devloop-sh/devloop/internal/errors"
)

// Loader reads input files and produces validated Input snapshots.
type Loader struct{}

// NewLoader creates a new input loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads, parses, and validates the input file at path. Supported
// extensions: .yml, .yaml, .md, .markdown.
func (l *Loader) Load(path string) (*Input, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return nil, errors.NewInputError(errors.MissingExtension, path, "input file has no extension")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.InputError{Kind: errors.ParseFailed, Path: path, Message: fmt.Sprintf("could not read input: %v", err), Err: err}
	}

	var body []byte
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		body = data
	case ".md", ".markdown":
		body, err = extractYAMLFences(data)
		if err != nil {
			return nil, &errors.InputError{Kind: errors.MarkdownFailed, Path: path, Message: err.Error(), Err: err}
		}
	default:
		return nil, errors.NewInputError(errors.UnsupportedExtension, path,
			fmt.Sprintf("unsupported input extension %q", ext))
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.NewInputError(errors.EmptyInput, path, "input file was empty")
	}

	input, err := parseYAML(path, body)
	if err != nil {
		return nil, err
	}
	if err := Validate(input); err != nil {
		return nil, err
	}
	return input, nil
}

// parseYAML decodes an Input, converting parse failures into located
// InputErrors.
func parseYAML(path string, body []byte) (*Input, error) {
	var input Input
	if err := yaml.Unmarshal(body, &input); err != nil {
		ie := &errors.InputError{
			Kind:    errors.ParseFailed,
			Path:    path,
			Message: strings.TrimSpace(yaml.FormatError(err, false, false)),
			Err:     err,
		}
		if line, col, ok := errorPosition(err); ok {
			ie.Line, ie.Column = line, col
			ie.Excerpt = lineAt(body, line)
		}
		return nil, ie
	}
	return &input, nil
}

// yamlPosRe matches the "[line:column]" prefix goccy puts on located errors.
var yamlPosRe = regexp.MustCompile(`\[(\d+):(\d+)\]`)

// errorPosition extracts the 1-based line/column from a goccy yaml error.
func errorPosition(err error) (int, int, bool) {
	m := yamlPosRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, 0, false
	}
	line, _ := strconv.Atoi(m[1])
	col, _ := strconv.Atoi(m[2])
	return line, col, true
}

// lineAt returns the raw source line (1-based), or "".
func lineAt(body []byte, line int) string {
	lines := strings.Split(string(body), "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}

// extractYAMLFences pulls the contents of ```yaml fenced blocks out of a
// markdown document and concatenates them.
func extractYAMLFences(data []byte) ([]byte, error) {
	var (
		out     strings.Builder
		inFence bool
		found   bool
	)
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !inFence {
			if trimmed == "```yaml" || trimmed == "```yml" {
				inFence = true
				found = true
			}
			continue
		}
		if trimmed == "```" {
			inFence = false
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if inFence {
		return nil, fmt.Errorf("unterminated yaml fence")
	}
	if !found {
		return nil, fmt.Errorf("no yaml code fence found")
	}
	return []byte(out.String()), nil
}

// Decode parses and validates a YAML input body that did not come from a
// file (embedded templates, tests).
func Decode(body []byte) (*Input, error) {
	input, err := parseYAML("", body)
	if err != nil {
		return nil, err
	}
	if err := Validate(input); err != nil {
		return nil, err
	}
	return input, nil
}

// FromArgs lowers bare CLI trailing arguments into an Input: directories
// become serve-dir routes, http(s) URLs become proxied routes. All routes
// land on a single server bound to port (0 = ephemeral).
func FromArgs(cwd string, args []string, port int, cors bool) (*Input, error) {
	if len(args) == 0 {
		return nil, errors.NewInputError(errors.EmptyInput, "", "no paths or proxy targets given")
	}

	server := ServerConfig{ServerIdentity: ServerIdentity{Port: port}}
	for _, arg := range args {
		if u, err := url.Parse(arg); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			server.Routes = append(server.Routes, Route{
				Path:  "/",
				Proxy: arg,
				Opts:  Opts{CORS: cors},
			})
			continue
		}
		dir := arg
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cwd, dir)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, errors.NewInputError(errors.Validation, arg,
				fmt.Sprintf("%q is neither a directory nor a proxy target", arg))
		}
		server.Routes = append(server.Routes, Route{
			Path: "/",
			Dir:  dir,
			Opts: Opts{CORS: cors},
		})
	}

	input := &Input{Servers: []ServerConfig{server}}
	if err := Validate(input); err != nil {
		return nil, err
	}
	return input, nil
}
