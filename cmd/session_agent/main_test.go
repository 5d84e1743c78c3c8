package main

import (
	"log/slog"
	"testing"

	"github.com/dgnsrekt/session_agent/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestSiteFromConfig(t *testing.T) {
	cfg := &config.Config{
		SiteURL:         "https://app.example.com/",
		SiteDomain:      "example.com",
		SiteHosts:       []string{"app.example.com"},
		SessionEndpoint: "https://app.example.com/internal/me",
		CSRFCookie:      "_csrf",
		AuthCookie:      "_jwt",
		CSRFHeader:      "x-csrf-token",
	}
	site := siteFromConfig(cfg)
	if site.URL != cfg.SiteURL || site.Endpoint != cfg.SessionEndpoint || site.CSRFHeader != "x-csrf-token" {
		t.Fatalf("siteFromConfig() = %+v", site)
	}
	if !site.MatchesOrigin("https://app.example.com/dashboard") {
		t.Fatal("site does not match its own host")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "native", "load"} {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("rootCmd.Find(%q) = %v, %v", name, c, err)
		}
	}
}
