package cdpcontrol

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type cdpHandler func(params json.RawMessage) (result any, errMsg string)

type cdpCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// fakeCDP serves the HTTP discovery endpoints and a browser WebSocket.
type fakeCDP struct {
	srv *httptest.Server

	mu       sync.Mutex
	targets  []map[string]string
	handlers map[string]cdpHandler
	calls    []cdpCall
	conns    []net.Conn
	dials    int
}

func newFakeCDP(t *testing.T) *fakeCDP {
	t.Helper()
	f := &fakeCDP{handlers: make(map[string]cdpHandler)}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "Chrome/140.0.0.0",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.dials++
		f.mu.Unlock()
		go f.serve(conn)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.dropConnections()
		f.srv.Close()
	})
	return f
}

func (f *fakeCDP) url() string { return f.srv.URL }

func (f *fakeCDP) addTarget(id, typ, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, map[string]string{"id": id, "type": typ, "url": url, "title": id})
}

func (f *fakeCDP) handle(method string, h cdpHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeCDP) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeCDP) lastCall(method string) (cdpCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i], true
		}
	}
	return cdpCall{}, false
}

func (f *fakeCDP) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeCDP) dropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.conns = nil
}

func (f *fakeCDP) serve(conn net.Conn) {
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}

		f.mu.Lock()
		f.calls = append(f.calls, cdpCall{Method: req.Method, SessionID: req.SessionID, Params: req.Params})
		h := f.handlers[req.Method]
		f.mu.Unlock()

		resp := map[string]any{"id": req.ID}
		if h == nil {
			resp["result"] = map[string]any{}
		} else if result, errMsg := h(req.Params); errMsg != "" {
			resp["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			resp["result"] = result
		}
		out, _ := json.Marshal(resp)
		if err := wsutil.WriteServerText(conn, out); err != nil {
			return
		}
	}
}
