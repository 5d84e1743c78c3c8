package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a minimal CDP client speaking to the browser-level endpoint.
// It never enables auto-attach or target discovery; sessions are attached
// on demand and only for Runtime.evaluate.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9220"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan json.RawMessage),
	}
}

// connect dials the browser-level WebSocket endpoint.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pendingMu.Lock()
	r.pending = make(map[int64]chan json.RawMessage)
	r.pendingMu.Unlock()
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// readLoop dispatches responses to waiters until the connection drops.
// Events are ignored.
func (r *rawCDP) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			r.closeAllPending()
			return
		}

		var msg struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.ID == 0 {
			continue
		}
		r.pendingMu.Lock()
		ch, ok := r.pending[msg.ID]
		if ok {
			delete(r.pending, msg.ID)
		}
		r.pendingMu.Unlock()
		if ok {
			ch <- json.RawMessage(data)
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (r *rawCDP) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: marshal: %w", err)
	}

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

// commandError is a protocol-level error returned by the browser.
type commandError struct {
	Method  string
	Code    int
	Message string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s", e.Method, e.Message)
}

// sendFlat sends a command, optionally on a flattened session, and returns
// the inner "result" member.
func (r *rawCDP) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := r.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, &commandError{Method: method, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return envelope.Result, nil
}

// call sends a browser-level command and decodes its result into out.
func (r *rawCDP) call(ctx context.Context, method string, params, out any) error {
	raw, err := r.sendFlat(ctx, "", method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	return nil
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "Target.attachToTarget", target.AttachToTarget(targetID).WithFlatten(true), &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.call(ctx, "Target.detachFromTarget", params, nil)
}

// evaluate runs JS on the given session and returns the string result.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	raw, err := r.sendFlat(ctx, sessionID, "Runtime.evaluate", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Result struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("rawcdp: unmarshal eval: %w", err)
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", resp.ExceptionDetails.Text)
	}

	// String results come back as JSON-encoded strings.
	var s string
	if err := json.Unmarshal(resp.Result.Value, &s); err != nil {
		return string(resp.Result.Value), nil
	}
	return s, nil
}

// createTarget opens a new page. background keeps the current tab focused.
func (r *rawCDP) createTarget(ctx context.Context, url string, background bool) (target.ID, error) {
	var resp struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := r.call(ctx, "Target.createTarget", target.CreateTarget(url).WithBackground(background), &resp); err != nil {
		return "", err
	}
	return resp.TargetID, nil
}

func (r *rawCDP) getTargetInfo(ctx context.Context, targetID target.ID) (*target.Info, error) {
	var resp struct {
		TargetInfo *target.Info `json:"targetInfo"`
	}
	if err := r.call(ctx, "Target.getTargetInfo", target.GetTargetInfo().WithTargetID(targetID), &resp); err != nil {
		return nil, err
	}
	if resp.TargetInfo == nil {
		return nil, fmt.Errorf("rawcdp: Target.getTargetInfo: empty targetInfo")
	}
	return resp.TargetInfo, nil
}

func (r *rawCDP) activateTarget(ctx context.Context, targetID target.ID) error {
	return r.call(ctx, "Target.activateTarget", target.ActivateTarget(targetID), nil)
}

func (r *rawCDP) closeTarget(ctx context.Context, targetID target.ID) error {
	return r.call(ctx, "Target.closeTarget", target.CloseTarget(targetID), nil)
}

func (r *rawCDP) windowForTarget(ctx context.Context, targetID target.ID) (browser.WindowID, error) {
	var resp struct {
		WindowID browser.WindowID `json:"windowId"`
	}
	if err := r.call(ctx, "Browser.getWindowForTarget", browser.GetWindowForTarget().WithTargetID(targetID), &resp); err != nil {
		return 0, err
	}
	return resp.WindowID, nil
}

// restoreWindow brings a minimized window back to its normal state.
func (r *rawCDP) restoreWindow(ctx context.Context, windowID browser.WindowID) error {
	bounds := &browser.Bounds{WindowState: browser.WindowStateNormal}
	return r.call(ctx, "Browser.setWindowBounds", browser.SetWindowBounds(windowID, bounds), nil)
}

// cookies returns every cookie in the default browser context.
func (r *rawCDP) cookies(ctx context.Context) ([]*network.Cookie, error) {
	var resp struct {
		Cookies []*network.Cookie `json:"cookies"`
	}
	if err := r.call(ctx, "Storage.getCookies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cookies, nil
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
