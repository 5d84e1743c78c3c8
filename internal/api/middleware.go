package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5/middleware"
)

// quietPaths are polled by supervisors and logged at debug level.
var quietPaths = map[string]bool{
	"/health":        true,
	"/api/v1/status": true,
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if quietPaths[r.URL.Path] {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// emptyMessageBody answers a message with no body through the service, which
// replies with an INVALID_MESSAGE envelope. huma rejects an empty raw body
// with a 400 before the handler runs.
func emptyMessageBody(svc Service) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		r, w := humachi.Unwrap(ctx)
		if r.Body != nil {
			br := bufio.NewReader(r.Body)
			if _, err := br.Peek(1); !errors.Is(err, io.EOF) {
				r.Body = struct {
					io.Reader
					io.Closer
				}{br, r.Body}
				next(ctx)
				return
			}
		}

		resp := svc.HandleMessage(ctx.Context(), nil)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Debug("empty message response write failed", "error", err)
		}
	}
}
