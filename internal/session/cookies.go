package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// SessionCookies maps cookie names to values for the target domain.
type SessionCookies map[string]string

// Header serializes every cookie into a single Cookie header value, sorted
// by name.
func (c SessionCookies) Header() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+c[name])
	}
	return strings.Join(parts, "; ")
}

// Extractor reads the session cookies of the target site.
type Extractor struct {
	store CookieStore
	site  Site
}

func NewExtractor(store CookieStore, site Site) *Extractor {
	return &Extractor{store: store, site: site}
}

// Extract returns the cookies for the site domain. It fails with a KindAuth
// error when the CSRF or the auth cookie is missing.
func (e *Extractor) Extract(ctx context.Context) (SessionCookies, error) {
	cookies, err := e.store.Cookies(ctx, e.site.Domain)
	if err != nil {
		return nil, err
	}
	slog.Debug("session cookies read", "domain", e.site.Domain, "count", len(cookies))

	out := make(SessionCookies, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}

	if out[e.site.CSRFCookie] == "" {
		return nil, NewError(KindAuth, "CSRF cookie not found. Please log in first.", nil)
	}
	if out[e.site.AuthCookie] == "" {
		return nil, NewError(KindAuth, "Authentication cookie not found. Please log in first.", nil)
	}
	return out, nil
}
