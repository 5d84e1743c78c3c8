package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/session_agent/internal/relay"
	"github.com/dgnsrekt/session_agent/internal/session"
)

// Service is the session core as seen by the HTTP API.
type Service interface {
	Load(ctx context.Context, forceRefresh, autoCreateTab bool) string
	ClearCache(ctx context.Context) string
	HandleMessage(ctx context.Context, raw []byte) session.Response
	Status() session.Status
}

// BrowserState reports whether the browser connection is up.
type BrowserState interface {
	Connected() bool
}

type resultOutput struct {
	Body session.Response
}

type messageInput struct {
	RawBody []byte `contentType:"application/json"`
}

type sessionInput struct {
	ForceRefresh  bool `query:"force_refresh" doc:"Bypass the cache and fetch fresh data."`
	AutoCreateTab bool `query:"auto_create_tab" default:"true" doc:"Open a site tab when none exists."`
}

type statusBody struct {
	Cached       bool       `json:"cached"`
	CachedAt     *time.Time `json:"cached_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatingTab  bool       `json:"creating_tab"`
	CDPConnected bool       `json:"cdp_connected"`
	EventClients int        `json:"event_clients"`
}

type statusOutput struct {
	Body statusBody
}

// NewServer builds the agent's HTTP handler. browser and events may be nil.
func NewServer(svc Service, browser BrowserState, events *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Session Agent API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if events != nil {
		router.Get("/api/v1/events", relay.SSEHandler(events))
	}

	registerSessionHandlers(api, svc)
	registerStatusHandlers(api, svc, browser, events)

	return router
}

func registerSessionHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/messages",
		Summary:     "Handle an extension message (load or clearCache)",
		Tags:        []string{"Session"},
		Middlewares: huma.Middlewares{emptyMessageBody(svc)},
	},
		func(ctx context.Context, input *messageInput) (*resultOutput, error) {
			out := &resultOutput{}
			out.Body = svc.HandleMessage(ctx, input.RawBody)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/session", Summary: "Load the logged-in user's session data", Tags: []string{"Session"}},
		func(ctx context.Context, input *sessionInput) (*resultOutput, error) {
			out := &resultOutput{}
			out.Body.ResultJSON = svc.Load(ctx, input.ForceRefresh, input.AutoCreateTab)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-cache", Method: http.MethodDelete, Path: "/api/v1/cache", Summary: "Clear cached session data", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*resultOutput, error) {
			out := &resultOutput{}
			out.Body.ResultJSON = svc.ClearCache(ctx)
			return out, nil
		})
}

func registerStatusHandlers(api huma.API, svc Service, browser BrowserState, events *relay.Broker) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Cache and tab-creation status", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			st := svc.Status()
			out := &statusOutput{}
			out.Body.Cached = st.Cached
			out.Body.CreatingTab = st.CreatingTab
			if st.Cached {
				cachedAt, expiresAt := st.CachedAt, st.ExpiresAt
				out.Body.CachedAt = &cachedAt
				out.Body.ExpiresAt = &expiresAt
			}
			if browser != nil {
				out.Body.CDPConnected = browser.Connected()
			}
			if events != nil {
				out.Body.EventClients = events.ClientCount()
			}
			return out, nil
		})
}
