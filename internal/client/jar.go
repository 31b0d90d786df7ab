package client

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"credproxy/internal/model"
)

// Jar is an http.CookieJar holding one session's backend cookies for the
// duration of a single backend call. It is seeded from the stored jar and
// read back with Snapshot once the call is done.
//
// Cookies are kept flat by name and scoped to the backend's site (its
// registrable domain), so hosts the backend redirects to within that site
// see them and foreign hosts never do.
type Jar struct {
	site string

	mu      sync.Mutex
	cookies model.Jar
}

// NewJar returns a jar for backend seeded with a copy of seed.
func NewJar(backend *url.URL, seed model.Jar) *Jar {
	return &Jar{
		site:    siteOf(backend.Hostname()),
		cookies: seed.Clone(),
	}
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if !j.inSite(u) {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies.Apply(cookies)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	if !j.inSite(u) {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies.Cookies()
}

// Snapshot returns a copy of the jar's current cookies.
func (j *Jar) Snapshot() model.Jar {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies.Clone()
}

func (j *Jar) inSite(u *url.URL) bool {
	return siteOf(u.Hostname()) == j.site
}

// siteOf returns the registrable domain of host, or the host itself for IP
// addresses, single-label names and public suffixes.
func siteOf(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
