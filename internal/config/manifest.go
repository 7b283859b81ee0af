package config

import (
	"encoding/json"
	"hash/fnv"
)

// RoutesManifest is an order-preserving digest of a server's route list, used
// to compute changesets between the running routes and a reloaded input.
type RoutesManifest struct {
	entries []manifestEntry
}

type manifestEntry struct {
	Path   string
	Kind   RouteKind
	Digest uint64
}

// NewRoutesManifest summarises the given routes.
func NewRoutesManifest(routes []Route) RoutesManifest {
	entries := make([]manifestEntry, 0, len(routes))
	for i := range routes {
		r := &routes[i]
		entries = append(entries, manifestEntry{
			Path:   r.PathOrDefault(),
			Kind:   r.Kind(),
			Digest: routeDigest(r),
		})
	}
	return RoutesManifest{entries: entries}
}

// routeDigest hashes the full route definition so any option change shows up
// as a "changed" entry.
func routeDigest(r *Route) uint64 {
	h := fnv.New64a()
	enc, _ := json.Marshal(struct {
		Path, HTML, Raw, Dir, Proxy, Mime string
		Cache                             CacheOpt
		CORS                              bool
		DelayMS                           uint64
		Inject                            []Injection
		Headers                           map[string]string
		WhenBody                          *BodyGuard
	}{
		r.PathOrDefault(), r.HTML, r.Raw, r.Dir, r.Proxy, r.Mime,
		r.Cache.OrDefault(), r.CORS, r.DelayMS, r.Inject.Injections(),
		r.Headers, r.WhenBody,
	})
	h.Write(enc)
	return h.Sum64()
}

// ChangeSet is the diff between two manifests, in route-path terms.
type ChangeSet struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether the changeset carries no changes.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Changed) == 0
}

// Paths returns every path mentioned by the changeset, in added, changed,
// removed order.
func (cs ChangeSet) Paths() []string {
	out := make([]string, 0, len(cs.Added)+len(cs.Changed)+len(cs.Removed))
	out = append(out, cs.Added...)
	out = append(out, cs.Changed...)
	out = append(out, cs.Removed...)
	return out
}

// ChangesetFor diffs this manifest against next. Identical inputs produce an
// empty changeset, which is what makes reconciliation idempotent. Paths with
// several routes (guard fall-through chains) compare as ordered groups.
func (m RoutesManifest) ChangesetFor(next RoutesManifest) ChangeSet {
	var cs ChangeSet

	oldByPath := groupByPath(m.entries)
	nextByPath := groupByPath(next.entries)

	seen := make(map[string]bool, len(next.entries))
	for _, e := range next.entries {
		if seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		prev, ok := oldByPath[e.Path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, e.Path)
		case !entriesEqual(prev, nextByPath[e.Path]):
			cs.Changed = append(cs.Changed, e.Path)
		}
	}
	for _, e := range m.entries {
		if !seen[e.Path] {
			cs.Removed = append(cs.Removed, e.Path)
			seen[e.Path] = true
		}
	}
	return cs
}

func groupByPath(entries []manifestEntry) map[string][]manifestEntry {
	out := make(map[string][]manifestEntry, len(entries))
	for _, e := range entries {
		out[e.Path] = append(out[e.Path], e)
	}
	return out
}

func entriesEqual(a, b []manifestEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
