package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxBodyBytes = 10 << 20

// FetchOptions bounds the fetcher's timing.
type FetchOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Fetcher issues authenticated requests for the session payload.
type Fetcher struct {
	client    *http.Client
	extractor *Extractor
	site      Site
	opts      FetchOptions

	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(client *http.Client, extractor *Extractor, site Site, opts FetchOptions) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Fetcher{
		client:    client,
		extractor: extractor,
		site:      site,
		opts:      opts,
		sleep:     sleepContext,
	}
}

// RetryDelay is the wait before retry number attempt (1-based).
func (f *Fetcher) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return f.opts.BaseDelay * time.Duration(1<<(attempt-1))
}

// Fetch runs the first attempt plus up to MaxRetries retries. The result is
// always a JSON string: the raw payload on success, a failure envelope once
// every attempt failed.
func (f *Fetcher) Fetch(ctx context.Context) string {
	var lastErr error
	total := f.opts.MaxRetries + 1

	for attempt := 0; attempt < total; attempt++ {
		if attempt > 0 {
			delay := f.RetryDelay(attempt)
			slog.Info("session fetch retry wait", "attempt", attempt, "max_retries", f.opts.MaxRetries, "delay_ms", delay.Milliseconds())
			if err := f.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		data, err := f.attempt(ctx)
		if err == nil {
			slog.Info("session data fetched", "attempt", attempt+1, "bytes", len(data))
			return data
		}
		lastErr = err
		slog.Warn("session fetch attempt failed", "attempt", attempt+1, "of", total, "code", Code(err), "error", err)
	}

	return FailWith(lastErr).JSON()
}

func (f *Fetcher) attempt(ctx context.Context) (string, error) {
	cookies, err := f.extractor.Extract(ctx)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.site.Endpoint, nil)
	if err != nil {
		return "", NewError(KindAPI, "failed to build request", err)
	}
	req.Header.Set(f.site.CSRFHeader, cookies[f.site.CSRFCookie])
	req.Header.Set("Cookie", cookies.Header())
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", NewError(KindTimeout, "API request timed out. Please try again later.", err)
		}
		return "", NewError(KindNetwork, "Network error occurred. Please check your internet connection.", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", NewError(KindAuth, "Not authenticated. Please log in first.", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", NewError(KindAPI, fmt.Sprintf("API request failed with status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", NewError(KindTimeout, "API request timed out. Please try again later.", err)
		}
		return "", NewError(KindNetwork, "Network error occurred. Please check your internet connection.", err)
	}

	data := string(body)
	switch strings.TrimSpace(data) {
	case "", "{}", "null":
		return "", NewError(KindEmptyData, "No user data returned. Please ensure you are logged in.", nil)
	}
	return data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
