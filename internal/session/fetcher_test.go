package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(cookies CookieStore, endpoint string, opts FetchOptions) *Fetcher {
	site := testSite
	site.Endpoint = endpoint
	f := NewFetcher(http.DefaultClient, NewExtractor(cookies, site), site, opts)
	f.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func TestRetryDelayDoublesFromBase(t *testing.T) {
	f := NewFetcher(nil, nil, testSite, FetchOptions{BaseDelay: time.Second, MaxRetries: 2})

	assert.Equal(t, time.Duration(0), f.RetryDelay(0))
	assert.Equal(t, time.Second, f.RetryDelay(1))
	assert.Equal(t, 2*time.Second, f.RetryDelay(2))
	assert.Equal(t, 4*time.Second, f.RetryDelay(3))
}

func TestFetchClassifiesResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{name: "forbidden", status: http.StatusForbidden, code: CodeNotLoggedIn, message: "Not authenticated. Please log in first."},
		{name: "server error", status: http.StatusBadGateway, code: CodeAPIRequestFailed, message: "API request failed with status 502"},
		{name: "empty body", status: http.StatusOK, body: "", code: CodeNotLoggedIn},
		{name: "empty object", status: http.StatusOK, body: "{}", code: CodeNotLoggedIn},
		{name: "null", status: http.StatusOK, body: "null", code: CodeNotLoggedIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			f := newTestFetcher(loggedInCookies(), up.endpoint(), FetchOptions{MaxRetries: 2})

			got := decodeFailure(t, f.Fetch(context.Background()))

			assert.Equal(t, tt.code, got.ErrorCode)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Error)
			}
			assert.Equal(t, int32(3), up.calls.Load())
		})
	}
}

func TestFetchRecoversOnRetry(t *testing.T) {
	var calls int
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u2"}`))
	})
	f := newTestFetcher(loggedInCookies(), up.endpoint(), FetchOptions{MaxRetries: 2})

	assert.Equal(t, `{"id":"u2"}`, f.Fetch(context.Background()))
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestFetchTimeout(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	f := newTestFetcher(loggedInCookies(), up.endpoint(), FetchOptions{Timeout: 20 * time.Millisecond, MaxRetries: 0})

	got := decodeFailure(t, f.Fetch(context.Background()))

	assert.Equal(t, CodeTimeout, got.ErrorCode)
	assert.Equal(t, "API request timed out. Please try again later.", got.Error)
}

func TestFetchSleepCancelled(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	site := testSite
	site.Endpoint = up.endpoint()
	f := NewFetcher(http.DefaultClient, NewExtractor(loggedInCookies(), site), site, FetchOptions{MaxRetries: 2, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := decodeFailure(t, f.Fetch(ctx))
	require.NotEmpty(t, got.ErrorCode)
	assert.LessOrEqual(t, up.calls.Load(), int32(1))
}
