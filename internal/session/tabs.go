package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ManagedTab is a tab believed to be authenticated against the site.
// Created is true only when this agent opened the tab.
type ManagedTab struct {
	ID       string
	URL      string
	WindowID int
	Created  bool
}

// TabLocator finds a site tab or opens one. At most one tab creation is in
// flight per locator.
type TabLocator struct {
	browser      Browser
	site         Site
	pollInterval time.Duration
	loadTimeout  time.Duration

	mu       sync.Mutex
	creating bool
}

func NewTabLocator(browser Browser, site Site, pollInterval, loadTimeout time.Duration) *TabLocator {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	if loadTimeout <= 0 {
		loadTimeout = 15 * time.Second
	}
	return &TabLocator{
		browser:      browser,
		site:         site,
		pollInterval: pollInterval,
		loadTimeout:  loadTimeout,
	}
}

// Creating reports whether a tab creation is in flight.
func (l *TabLocator) Creating() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creating
}

// Resolve returns the first open tab on the site, or creates one when
// autoCreate is set.
func (l *TabLocator) Resolve(ctx context.Context, autoCreate bool) (ManagedTab, error) {
	tabs, err := l.browser.QueryTabs(ctx)
	if err != nil {
		if IsKind(err, KindPermission) {
			return ManagedTab{}, err
		}
		return ManagedTab{}, NewError(KindTab, "failed to enumerate tabs", err)
	}

	for _, t := range tabs {
		if t.ID == "" || !l.site.MatchesOrigin(t.URL) {
			continue
		}
		slog.Info("session found existing tab", "tab_id", t.ID, "url", truncateURL(t.URL))
		return ManagedTab{ID: t.ID, URL: t.URL, WindowID: t.WindowID}, nil
	}

	if !autoCreate {
		return ManagedTab{}, NewError(KindTab, "No site tabs found and auto-create is disabled", nil)
	}
	return l.create(ctx)
}

func (l *TabLocator) create(ctx context.Context) (ManagedTab, error) {
	l.mu.Lock()
	if l.creating {
		l.mu.Unlock()
		return ManagedTab{}, NewError(KindAlreadyCreating, "Already creating a site tab", nil)
	}
	l.creating = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.creating = false
		l.mu.Unlock()
	}()

	slog.Info("session creating tab", "url", l.site.URL)
	tab, err := l.browser.CreateTab(ctx, l.site.URL, false)
	if err != nil {
		if IsKind(err, KindPermission) {
			return ManagedTab{}, err
		}
		return ManagedTab{}, NewError(KindTab, "failed to create tab", err)
	}
	if tab.ID == "" {
		return ManagedTab{}, NewError(KindTab, "failed to create tab (no ID returned)", nil)
	}
	slog.Info("session created tab", "tab_id", tab.ID)

	defer func() {
		if r := recover(); r != nil {
			l.discard(ctx, tab.ID)
			panic(r)
		}
	}()

	loaded, err := l.waitForLoad(ctx, tab.ID)
	if err != nil {
		l.discard(ctx, tab.ID)
		return ManagedTab{}, err
	}

	return ManagedTab{ID: loaded.ID, URL: loaded.URL, WindowID: loaded.WindowID, Created: true}, nil
}

// discard closes a created tab that will not be handed to the caller.
func (l *TabLocator) discard(ctx context.Context, id string) {
	if err := l.browser.RemoveTab(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, ErrTabNotFound) {
		slog.Warn("session failed to close unloaded tab", "tab_id", id, "error", err)
	}
}

// waitForLoad polls the tab until its document is complete on the site
// origin.
func (l *TabLocator) waitForLoad(ctx context.Context, id string) (Tab, error) {
	ctx, cancel := context.WithTimeout(ctx, l.loadTimeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		tab, err := l.browser.GetTab(ctx, id)
		switch {
		case errors.Is(err, ErrTabNotFound):
			return Tab{}, NewError(KindTabLoadTimeout, fmt.Sprintf("Tab %s no longer exists", id), err)
		case err != nil && ctx.Err() == nil:
			return Tab{}, NewError(KindTab, fmt.Sprintf("Tab %s status unavailable", id), err)
		case err == nil && tab.Status == TabStatusComplete && l.site.MatchesOrigin(tab.URL):
			slog.Info("session tab loaded", "tab_id", id, "url", truncateURL(tab.URL))
			return tab, nil
		}

		select {
		case <-ctx.Done():
			return Tab{}, NewError(KindTabLoadTimeout, "Tab loading timed out", ctx.Err())
		case <-ticker.C:
		}
	}
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
