package config

import (
	"fmt"

	"github.com/devloop-sh/devloop/internal/errors"
)

// Validate applies the input rules. Duplicate server identities are an input
// error: reconciliation keys servers by identity, so duplicates are rejected
// up front rather than silently last-wins merged.
func Validate(input *Input) error {
	seen := make(map[string]int, len(input.Servers))
	for i := range input.Servers {
		sc := &input.Servers[i]
		key := sc.Identity().Key()
		if prev, dup := seen[key]; dup {
			return errors.NewInputError(errors.Validation, "",
				fmt.Sprintf("duplicate server identity %q (servers %d and %d)", sc.Identity(), prev, i))
		}
		seen[key] = i

		for j := range sc.Routes {
			r := &sc.Routes[j]
			if r.Raw != "" && r.Mime == "" {
				return errors.NewInputError(errors.Validation, "",
					fmt.Sprintf("server %q route %q: raw routes require a mime", sc.Identity(), r.PathOrDefault()))
			}
		}
		for j := range sc.Watchers {
			w := &sc.Watchers[j]
			if w.Dir == "" {
				return errors.NewInputError(errors.Validation, "",
					fmt.Sprintf("server %q watcher %d: dir is required", sc.Identity(), j))
			}
			if w.Ext != "" && w.Glob != "" {
				return errors.NewInputError(errors.Validation, "",
					fmt.Sprintf("server %q watcher %q: ext and glob are mutually exclusive", sc.Identity(), w.Dir))
			}
		}
	}
	return nil
}
