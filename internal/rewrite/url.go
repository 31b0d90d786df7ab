// Package rewrite keeps navigation inside the proxy by rewriting links in
// HTML documents served from the backend.
package rewrite

import (
	"net/url"
	"strings"
)

// Link maps a link found in a backend document to its proxied form.
//
// Links to other origins (including non-http schemes such as mailto: or
// data:) are returned unchanged. Links to the backend origin are reduced to
// path, query and fragment. Everything else, fragment-only and query-only
// links included, is joined under prefix, which must start and end with a
// slash. Rooted links already under prefix are left alone, so rewriting is
// idempotent.
func Link(link string, backend *url.URL, prefix string) string {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" || trimmed == prefix {
		return prefix
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return link
	}

	reduced := false
	if u.Scheme != "" || u.Host != "" {
		if !sameOrigin(u, backend) {
			return link
		}
		u = &url.URL{
			Path:        u.Path,
			RawPath:     u.RawPath,
			RawQuery:    u.RawQuery,
			ForceQuery:  u.ForceQuery,
			Fragment:    u.Fragment,
			RawFragment: u.RawFragment,
		}
		reduced = true
	}
	if strings.HasPrefix(u.Path, "/") && underPrefix(u.Path, prefix) {
		if reduced {
			return u.String()
		}
		return link
	}

	ref := *u
	ref.Path = strings.TrimLeft(u.Path, "/")
	ref.RawPath = strings.TrimLeft(u.RawPath, "/")

	base := &url.URL{Path: prefix}
	out := base.ResolveReference(&ref)
	if !strings.HasPrefix(out.Path, prefix) {
		// Dot segments climbed above the mount point.
		out.Path = prefix + strings.TrimLeft(out.Path, "/")
		out.RawPath = ""
	}
	return out.String()
}

// underPrefix reports whether p, with leading slashes normalised to one,
// already addresses the proxy mount point.
func underPrefix(p, prefix string) bool {
	norm := "/" + strings.TrimLeft(p, "/")
	return strings.HasPrefix(norm, prefix) || norm == strings.TrimSuffix(prefix, "/")
}

// sameOrigin compares scheme, host and port. A protocol-relative link
// inherits the backend scheme.
func sameOrigin(u, backend *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = strings.ToLower(backend.Scheme)
	}
	if scheme != strings.ToLower(backend.Scheme) {
		return false
	}
	if !strings.EqualFold(u.Hostname(), backend.Hostname()) {
		return false
	}
	return effectivePort(u.Port(), scheme) == effectivePort(backend.Port(), scheme)
}

func effectivePort(port, scheme string) string {
	if port != "" {
		return port
	}
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
