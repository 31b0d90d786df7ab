package model

import (
	"maps"
	"net/http"
	"slices"
	"time"
)

// Jar maps backend cookie names to values for one client session.
type Jar map[string]string

// Clone returns an independent copy of j. A nil jar clones to an empty one.
func (j Jar) Clone() Jar {
	out := make(Jar, len(j))
	maps.Copy(out, j)
	return out
}

// Equal reports whether j and other hold the same cookies.
func (j Jar) Equal(other Jar) bool {
	return maps.Equal(j, other)
}

// Apply merges cookies received from the backend into j. Cookies that are
// expired or carry a negative Max-Age are removed.
func (j Jar) Apply(cookies []*http.Cookie) {
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(j, c.Name)
			continue
		}
		j[c.Name] = c.Value
	}
}

// Cookies returns the jar as request cookies, ordered by name.
func (j Jar) Cookies() []*http.Cookie {
	names := slices.Sorted(maps.Keys(j))
	out := make([]*http.Cookie, 0, len(names))
	for _, n := range names {
		out = append(out, &http.Cookie{Name: n, Value: j[n]})
	}
	return out
}
