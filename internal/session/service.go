package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event feeds published by the service.
const (
	FeedSession       = "session"
	FeedLoginRequired = "login_required"
	FeedCache         = "cache"
)

const notifyTimeout = 5 * time.Second

// Publisher receives service events.
type Publisher interface {
	Publish(feed, payload string)
}

// LoginNotifier is told when the user has to log in on the site.
type LoginNotifier interface {
	NotifyLoginRequired(ctx context.Context, siteURL string) error
}

// Options configures a Service.
type Options struct {
	FetchTimeout    time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	TabPollInterval time.Duration
	TabLoadTimeout  time.Duration
	CacheTTL        time.Duration

	Events   Publisher
	Notifier LoginNotifier
}

// Service orchestrates a session data request: cache, tab, fetch, login
// hand-off, cleanup.
type Service struct {
	site     Site
	browser  Browser
	locator  *TabLocator
	fetcher  *Fetcher
	cache    *Cache
	events   Publisher
	notifier LoginNotifier
}

func NewService(browser Browser, cookies CookieStore, client *http.Client, site Site, opts Options) *Service {
	extractor := NewExtractor(cookies, site)
	return &Service{
		site:    site,
		browser: browser,
		locator: NewTabLocator(browser, site, opts.TabPollInterval, opts.TabLoadTimeout),
		fetcher: NewFetcher(client, extractor, site, FetchOptions{
			Timeout:    opts.FetchTimeout,
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.RetryBaseDelay,
		}),
		cache:    NewCache(opts.CacheTTL),
		events:   opts.Events,
		notifier: opts.Notifier,
	}
}

// Load returns the session payload or a failure envelope, always as a JSON
// string. The caller's cancellation does not stop the work so an abandoned
// request still populates the cache.
func (s *Service) Load(ctx context.Context, forceRefresh, autoCreateTab bool) (result string) {
	ctx = context.WithoutCancel(ctx)
	log := slog.With("request_id", uuid.NewString())

	if !forceRefresh {
		if entry, ok := s.cache.Get(CacheKey); ok {
			log.Info("session returning cached data", "age_ms", time.Since(entry.Timestamp).Milliseconds())
			return entry.Data
		}
	}

	log.Info("session load start", "force_refresh", forceRefresh, "auto_create_tab", autoCreateTab)

	var (
		tab      ManagedTab
		resolved bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("session load panic", "panic", r)
		if resolved {
			s.cleanup(ctx, log, tab)
		}
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		result = s.withLoginHint(FailWith(err)).JSON()
	}()

	tab, err := s.locator.Resolve(ctx, autoCreateTab)
	if err != nil {
		log.Warn("session tab resolve failed", "error", err)
		code := CodeTabError
		if IsKind(err, KindPermission) {
			code = CodePermissionError
		}
		return Fail(Message(err), code).JSON()
	}
	resolved = true

	raw := s.fetcher.Fetch(ctx)
	env, err := ParseEnvelope(raw)
	if err != nil {
		log.Error("session result is not valid JSON", "error", err)
		s.cleanup(ctx, log, tab)
		return Fail("Invalid data returned from API", CodeInvalidJSON).JSON()
	}

	if env.Failed() && env.Failure().ErrorCode == CodeNotLoggedIn {
		s.handOffLogin(ctx, log, tab)
		return s.withLoginHint(env).JSON()
	}

	s.cleanup(ctx, log, tab)

	if env.Failed() {
		log.Warn("session load failed", "code", env.Failure().ErrorCode, "error", env.Failure().Error)
		return raw
	}

	s.cache.Put(CacheKey, raw)
	s.publish(FeedSession, raw)
	log.Info("session load ok", "bytes", len(raw), "tab_created", tab.Created)
	return raw
}

// ClearCache drops every cached entry.
func (s *Service) ClearCache(ctx context.Context) (result string) {
	_ = ctx
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session clear cache panic", "panic", r)
			result = Fail(fmt.Sprint(r), CodeClearCacheError).JSON()
		}
	}()

	s.cache.Clear()
	slog.Info("session cache cleared")

	b, err := json.Marshal(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: true, Message: "Cache cleared"})
	if err != nil {
		return Fail(err.Error(), CodeClearCacheError).JSON()
	}
	s.publish(FeedCache, string(b))
	return string(b)
}

// Status describes the cache and tab-creation state.
type Status struct {
	Cached      bool      `json:"cached"`
	CachedAt    time.Time `json:"cached_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	CreatingTab bool      `json:"creating_tab"`
}

func (s *Service) Status() Status {
	st := Status{CreatingTab: s.locator.Creating()}
	if entry, ok := s.cache.Get(CacheKey); ok {
		st.Cached = true
		st.CachedAt = entry.Timestamp
		st.ExpiresAt = entry.Timestamp.Add(s.cache.TTL())
	}
	return st
}

// handOffLogin brings the tab to the front so the user can log in.
func (s *Service) handOffLogin(ctx context.Context, log *slog.Logger, tab ManagedTab) {
	log.Info("session login required, activating tab", "tab_id", tab.ID, "tab_created", tab.Created)

	if err := s.browser.ActivateTab(ctx, tab.ID); err != nil {
		log.Warn("session failed to activate tab for login", "tab_id", tab.ID, "error", err)
	} else {
		windowID := tab.WindowID
		if current, err := s.browser.GetTab(ctx, tab.ID); err == nil && current.WindowID != 0 {
			windowID = current.WindowID
		}
		if windowID != 0 {
			if err := s.browser.FocusWindow(ctx, windowID); err != nil {
				log.Warn("session failed to focus window", "window_id", windowID, "error", err)
			}
		}
	}

	if payload, err := json.Marshal(struct {
		TabID string `json:"tab_id"`
		URL   string `json:"url"`
	}{TabID: tab.ID, URL: s.site.URL}); err == nil {
		s.publish(FeedLoginRequired, string(payload))
	}

	if s.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyLoginRequired(nctx, s.site.URL); err != nil {
			log.Warn("session login notification failed", "error", err)
		}
	}
}

// cleanup closes tabs this agent opened. Discovered tabs are left alone.
func (s *Service) cleanup(ctx context.Context, log *slog.Logger, tab ManagedTab) {
	if !tab.Created || tab.ID == "" {
		return
	}
	if err := s.browser.RemoveTab(ctx, tab.ID); err != nil {
		if errors.Is(err, ErrTabNotFound) {
			log.Debug("session created tab already closed", "tab_id", tab.ID)
			return
		}
		log.Warn("session failed to close created tab", "tab_id", tab.ID, "error", err)
		return
	}
	log.Info("session closed created tab", "tab_id", tab.ID)
}

func (s *Service) withLoginHint(env Envelope) Envelope {
	f := env.Failure()
	if f == nil || f.ErrorCode != CodeNotLoggedIn || strings.Contains(f.Error, "Please open") {
		return env
	}
	return Fail(strings.TrimSpace(f.Error+" "+s.site.LoginHint()), f.ErrorCode)
}

func (s *Service) publish(feed, payload string) {
	if s.events == nil {
		return
	}
	s.events.Publish(feed, payload)
}
