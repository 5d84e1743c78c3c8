package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/session_agent/internal/browser"
	"github.com/dgnsrekt/session_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/session_agent/internal/config"
	"github.com/dgnsrekt/session_agent/internal/notify"
	"github.com/dgnsrekt/session_agent/internal/relay"
	"github.com/dgnsrekt/session_agent/internal/session"
)

// runtime is the wired agent shared by every subcommand.
type runtime struct {
	cfg      *config.Config
	launcher *browser.Launcher
	cdp      *cdpcontrol.Client
	events   *relay.Broker
	svc      *session.Service
}

func newRuntime(ctx context.Context, console io.Writer) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile, console); err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}

	slog.Info("session_agent config loaded",
		"cdp_url", cfg.CDPURL(),
		"site_url", cfg.SiteURL,
		"site_domain", cfg.SiteDomain,
		"endpoint", cfg.SessionEndpoint,
		"cache_ttl", cfg.CacheTTL(),
		"max_retries", cfg.MaxRetries,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	rt := &runtime{cfg: cfg, events: relay.NewBroker()}

	if cfg.LaunchBrowser {
		rt.launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.SiteURL,
			ProfileDir: cfg.BrowserProfileDir,
			ExecPath:   cfg.BrowserPath,
		})
		if err := rt.launcher.Launch(ctx); err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	rt.cdp = cdpcontrol.NewClient(cfg.CDPURL(), cfg.CDPTimeout())
	if err := rt.cdp.Connect(ctx); err != nil {
		// Requests reconnect on demand.
		slog.Warn("CDP not reachable at startup", "cdp_url", cfg.CDPURL(), "error", err)
	}

	opts := session.Options{
		FetchTimeout:    cfg.FetchTimeout(),
		MaxRetries:      cfg.MaxRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay(),
		TabPollInterval: cfg.TabPollInterval(),
		TabLoadTimeout:  cfg.TabLoadTimeout(),
		CacheTTL:        cfg.CacheTTL(),
		Events:          rt.events,
	}
	if n := notify.New(http.DefaultClient, cfg.NotifyEndpoint); n != nil {
		opts.Notifier = n
	}

	rt.svc = session.NewService(rt.cdp, rt.cdp, &http.Client{}, siteFromConfig(cfg), opts)
	return rt, nil
}

func siteFromConfig(cfg *config.Config) session.Site {
	return session.Site{
		URL:        cfg.SiteURL,
		Domain:     cfg.SiteDomain,
		Hosts:      cfg.SiteHosts,
		Endpoint:   cfg.SessionEndpoint,
		CSRFCookie: cfg.CSRFCookie,
		AuthCookie: cfg.AuthCookie,
		CSRFHeader: cfg.CSRFHeader,
	}
}

func (rt *runtime) Close() {
	if err := rt.cdp.Close(); err != nil {
		slog.Debug("CDP client close failed", "error", err)
	}
	if rt.launcher != nil {
		rt.launcher.Stop()
	}
}
