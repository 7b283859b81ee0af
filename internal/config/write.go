package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/devloop-sh/devloop/internal/errors"
)

// Target selects the on-disk format when an Input is written back.
type Target string

const (
	TargetYAML Target = "yaml"
	TargetTOML Target = "toml"
	TargetMD   Target = "md"
	TargetHTML Target = "html"
)

// ParseTarget resolves a --target flag value, defaulting to yaml.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "", "yaml":
		return TargetYAML, nil
	case "toml":
		return TargetTOML, nil
	case "md":
		return TargetMD, nil
	case "html":
		return TargetHTML, nil
	default:
		return "", errors.NewInputError(errors.Validation, "",
			fmt.Sprintf("unsupported target %q (yaml, toml, md, html)", s))
	}
}

// Filename returns base with the target's extension.
func (t Target) Filename(base string) string {
	switch t {
	case TargetTOML:
		return base + ".toml"
	case TargetMD:
		return base + ".md"
	case TargetHTML:
		return base + ".html"
	default:
		return base + ".yml"
	}
}

// InputBase is the file stem used when an input is persisted.
const InputBase = "bslive"

// WriteInput serialises input into dir as <InputBase>.<ext> for the target
// format and returns the written path. An existing file is refused unless
// force.
func WriteInput(dir string, input *Input, target Target, force bool) (string, error) {
	body, err := EncodeInput(input, target)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, target.Filename(InputBase))
	if _, err := os.Stat(path); err == nil && !force {
		return "", errors.NewInputError(errors.Validation, path,
			fmt.Sprintf("refusing to overwrite %s (use --force)", path))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// EncodeInput renders an Input in the target format. The html target is a
// single-file rendering of a playground server; loading back is supported
// for the yaml and md forms.
func EncodeInput(input *Input, target Target) ([]byte, error) {
	switch target {
	case TargetYAML:
		return yaml.Marshal(input)
	case TargetMD:
		body, err := yaml.Marshal(input)
		if err != nil {
			return nil, err
		}
		return append(append([]byte("```yaml\n"), body...), []byte("```\n")...), nil
	case TargetTOML:
		return encodeTOML(input)
	case TargetHTML:
		return encodeHTML(input)
	default:
		return nil, errors.NewInputError(errors.Validation, "",
			fmt.Sprintf("unsupported target %q", target))
	}
}

// encodeTOML round-trips through the yaml encoding so the custom field forms
// (inject, run items, guards) serialise exactly once, in one place.
func encodeTOML(input *Input) ([]byte, error) {
	body, err := yaml.Marshal(input)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(body, &generic); err != nil {
		return nil, err
	}
	return toml.Marshal(generic)
}

// encodeHTML renders the first playground server as a standalone page with
// its css and js inlined.
func encodeHTML(input *Input) ([]byte, error) {
	for i := range input.Servers {
		pg := input.Servers[i].Playground
		if pg == nil {
			continue
		}
		page := pg.HTML
		if pg.CSS != "" {
			page = withHeadTag(page, "<style>\n"+pg.CSS+"</style>")
		}
		if pg.JS != "" {
			page = withBodyTag(page, `<script type="module">`+"\n"+pg.JS+"</script>")
		}
		return []byte(page), nil
	}
	return nil, errors.NewInputError(errors.Validation, "",
		"the html target requires a server with a playground")
}
