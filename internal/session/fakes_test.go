package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testSite = Site{
	URL:        "https://app.example.test/",
	Domain:     "example.test",
	Hosts:      []string{"app.example.test", "www.app.example.test"},
	CSRFCookie: "_csrf",
	AuthCookie: "_jwt",
	CSRFHeader: "x-csrf-token",
}

type fakeBrowser struct {
	mu sync.Mutex

	tabs      map[string]*Tab
	order     []string
	nextID    int
	loadAfter int
	getCalls  map[string]int
	vanish    bool
	getPanic  string

	queryErr  error
	createErr error

	createStarted chan struct{}
	createGate    chan struct{}

	queries   int
	created   []string
	removed   []string
	activated []string
	focused   []int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		tabs:     make(map[string]*Tab),
		getCalls: make(map[string]int),
	}
}

func (b *fakeBrowser) addTab(id, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs[id] = &Tab{ID: id, URL: url, Status: TabStatusComplete, WindowID: 7}
	b.order = append(b.order, id)
}

func (b *fakeBrowser) QueryTabs(ctx context.Context) ([]Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries++
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	out := make([]Tab, 0, len(b.order))
	for _, id := range b.order {
		if t, ok := b.tabs[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (b *fakeBrowser) CreateTab(ctx context.Context, url string, active bool) (Tab, error) {
	if b.createStarted != nil {
		close(b.createStarted)
	}
	if b.createGate != nil {
		<-b.createGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return Tab{}, b.createErr
	}
	b.nextID++
	id := fmt.Sprintf("created-%d", b.nextID)
	b.tabs[id] = &Tab{ID: id, URL: "about:blank", Status: TabStatusLoading, WindowID: 9}
	b.order = append(b.order, id)
	b.created = append(b.created, id)
	return *b.tabs[id], nil
}

func (b *fakeBrowser) GetTab(ctx context.Context, id string) (Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return Tab{}, ErrTabNotFound
	}
	b.getCalls[id]++
	if b.getPanic != "" {
		panic(b.getPanic)
	}
	if b.vanish {
		delete(b.tabs, id)
		return Tab{}, ErrTabNotFound
	}
	if t.Status == TabStatusLoading && b.loadAfter >= 0 && b.getCalls[id] > b.loadAfter {
		t.Status = TabStatusComplete
		t.URL = testSite.URL
	}
	return *t, nil
}

func (b *fakeBrowser) ActivateTab(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activated = append(b.activated, id)
	return nil
}

func (b *fakeBrowser) FocusWindow(ctx context.Context, windowID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.focused = append(b.focused, windowID)
	return nil
}

func (b *fakeBrowser) RemoveTab(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tabs[id]; !ok {
		return ErrTabNotFound
	}
	delete(b.tabs, id)
	b.removed = append(b.removed, id)
	return nil
}

func (b *fakeBrowser) snapshot() (created, removed, activated []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.created...), append([]string(nil), b.removed...), append([]string(nil), b.activated...)
}

type fakeCookies struct {
	cookies []Cookie
	err     error
	calls   atomic.Int32
}

func (c *fakeCookies) Cookies(ctx context.Context, domain string) ([]Cookie, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.cookies, nil
}

func loggedInCookies() *fakeCookies {
	return &fakeCookies{cookies: []Cookie{
		{Name: "_jwt", Value: "token", Domain: ".example.test"},
		{Name: "_csrf", Value: "csrf-value", Domain: "app.example.test"},
		{Name: "theme", Value: "dark", Domain: ".example.test"},
	}}
}

type upstream struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) endpoint() string { return u.srv.URL + "/internal/logged_in_user" }

type recordedEvent struct {
	feed    string
	payload string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(feed, payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{feed: feed, payload: payload})
}

func (p *fakePublisher) feeds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.feed)
	}
	return out
}

func testOptions() Options {
	return Options{
		FetchTimeout:    time.Second,
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
		TabPollInterval: time.Millisecond,
		TabLoadTimeout:  500 * time.Millisecond,
		CacheTTL:        5 * time.Minute,
	}
}

func newTestService(browser Browser, cookies CookieStore, endpoint string, opts Options) *Service {
	site := testSite
	site.Endpoint = endpoint
	return NewService(browser, cookies, http.DefaultClient, site, opts)
}
