package manifest

import (
	"net/url"
)

// ResolveURL joins ref against base and returns an absolute URL. Query
// parameters present on base but absent from the resolved URL are carried
// over: many CDNs issue auth tokens on the manifest URL and expect the same
// token on every variant, key, and segment request.
func ResolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	resolved := b.ResolveReference(r)

	baseQuery := b.Query()
	if len(baseQuery) == 0 {
		return resolved.String()
	}
	q := resolved.Query()
	changed := false
	for k, vals := range baseQuery {
		if _, ok := q[k]; ok {
			continue
		}
		q[k] = vals
		changed = true
	}
	if changed {
		resolved.RawQuery = q.Encode()
	}
	return resolved.String()
}
