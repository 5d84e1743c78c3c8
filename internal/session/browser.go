package session

import (
	"context"
	"net/url"
	"strings"
)

// Tab status values reported by a Browser.
const (
	TabStatusLoading  = "loading"
	TabStatusComplete = "complete"
)

// Tab is a browser tab as seen through the platform primitives.
type Tab struct {
	ID       string
	URL      string
	Status   string
	WindowID int
}

// Cookie is a single cookie read from the browser cookie store.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Browser exposes the tab and window primitives the agent consumes.
type Browser interface {
	QueryTabs(ctx context.Context) ([]Tab, error)
	CreateTab(ctx context.Context, url string, active bool) (Tab, error)
	GetTab(ctx context.Context, id string) (Tab, error)
	ActivateTab(ctx context.Context, id string) error
	FocusWindow(ctx context.Context, windowID int) error
	RemoveTab(ctx context.Context, id string) error
}

// CookieStore enumerates cookies for a domain and its subdomains.
type CookieStore interface {
	Cookies(ctx context.Context, domain string) ([]Cookie, error)
}

// Site describes the target platform.
type Site struct {
	URL        string
	Domain     string
	Hosts      []string
	Endpoint   string
	CSRFCookie string
	AuthCookie string
	CSRFHeader string
}

// MatchesOrigin reports whether rawURL points at the site: an exact host
// match or a subdomain of the site domain.
func (s Site) MatchesOrigin(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return s.Domain != "" && strings.Contains(rawURL, s.Domain+"/")
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range s.Hosts {
		if host == strings.ToLower(h) {
			return true
		}
	}
	if s.Domain == "" {
		return false
	}
	domain := strings.ToLower(s.Domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// LoginHint is appended to NOT_LOGGED_IN messages.
func (s Site) LoginHint() string {
	return "Please open " + s.URL + " in your browser and log in before using this extension."
}
