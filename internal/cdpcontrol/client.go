package cdpcontrol

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/session_agent/internal/session"
)

var (
	_ session.Browser     = (*Client)(nil)
	_ session.CookieStore = (*Client)(nil)
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

var notFoundHints = []string{
	"no target with given id",
	"no web contents",
	"no such target",
}

var permissionHints = []string{
	"not allowed",
	"permission denied",
	"access denied",
}

type tabSession struct {
	info target.Info // guarded by Client.mu

	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives tabs, windows and cookies of a Chromium instance over its
// remote debugging endpoint.
type Client struct {
	cdpURL  string
	timeout time.Duration

	mu    sync.Mutex
	cdp   *rawCDP
	tabs  map[target.ID]*tabSession
	order []target.ID
}

func NewClient(cdpURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		cdpURL:  cdpURL,
		timeout: timeout,
		tabs:    make(map[target.ID]*tabSession),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

// Connected reports whether the browser WebSocket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cdp != nil && c.cdp.connected()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for _, s := range c.tabs {
			s.mu.Lock()
			if s.sessionID != "" && c.cdp.connected() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = c.cdp.detachFromTarget(ctx, s.sessionID)
				cancel()
			}
			s.sessionID = ""
			s.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.order = nil
}

// QueryTabs lists open page targets in browser order.
func (c *Client) QueryTabs(ctx context.Context) ([]session.Tab, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol query tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	out := make([]session.Tab, 0, len(c.order))
	for _, id := range c.order {
		s := c.tabs[id]
		if s == nil {
			continue
		}
		out = append(out, session.Tab{ID: string(id), URL: s.info.URL})
	}
	c.mu.Unlock()

	slog.Debug("cdpcontrol query tabs", "count", len(out))
	return out, nil
}

// CreateTab opens url in a new tab. It is not retried: a dropped
// connection after the command was sent may already have opened the tab.
func (c *Client) CreateTab(ctx context.Context, url string, active bool) (session.Tab, error) {
	var id target.ID
	err := c.run(ctx, "create tab", func(ctx context.Context, cdp *rawCDP) error {
		var err error
		id, err = cdp.createTarget(ctx, url, !active)
		return err
	})
	if err != nil {
		return session.Tab{}, err
	}

	c.remember(target.Info{TargetID: id, Type: "page", URL: url})
	slog.Info("cdpcontrol tab created", "target_id", id, "background", !active)
	return session.Tab{ID: string(id), URL: url, Status: session.TabStatusLoading}, nil
}

// GetTab reads the current URL, document state and window of a tab.
func (c *Client) GetTab(ctx context.Context, id string) (session.Tab, error) {
	tid := target.ID(id)
	var (
		info     *target.Info
		windowID browser.WindowID
	)
	err := c.do(ctx, "get tab", func(ctx context.Context, cdp *rawCDP) error {
		var err error
		if info, err = cdp.getTargetInfo(ctx, tid); err != nil {
			return err
		}
		if windowID, err = cdp.windowForTarget(ctx, tid); err != nil {
			slog.Debug("cdpcontrol window lookup failed", "target_id", id, "error", err)
			windowID = 0
		}
		return nil
	})
	if err != nil {
		return session.Tab{}, err
	}

	s := c.remember(*info)
	return session.Tab{
		ID:       id,
		URL:      info.URL,
		Status:   c.readyState(ctx, tid, s),
		WindowID: int(windowID),
	}, nil
}

func (c *Client) ActivateTab(ctx context.Context, id string) error {
	return c.do(ctx, "activate tab", func(ctx context.Context, cdp *rawCDP) error {
		return cdp.activateTarget(ctx, target.ID(id))
	})
}

// FocusWindow restores the window to its normal state. Unknown windows
// (id 0) are ignored.
func (c *Client) FocusWindow(ctx context.Context, windowID int) error {
	if windowID == 0 {
		return nil
	}
	return c.do(ctx, "focus window", func(ctx context.Context, cdp *rawCDP) error {
		return cdp.restoreWindow(ctx, browser.WindowID(windowID))
	})
}

func (c *Client) RemoveTab(ctx context.Context, id string) error {
	tid := target.ID(id)
	err := c.run(ctx, "remove tab", func(ctx context.Context, cdp *rawCDP) error {
		return cdp.closeTarget(ctx, tid)
	})
	c.forget(tid)
	if err != nil {
		return err
	}
	slog.Info("cdpcontrol tab removed", "target_id", id)
	return nil
}

// Cookies returns the cookies whose domain is domain or one of its
// subdomains.
func (c *Client) Cookies(ctx context.Context, domain string) ([]session.Cookie, error) {
	var all []*network.Cookie
	err := c.do(ctx, "read cookies", func(ctx context.Context, cdp *rawCDP) error {
		var err error
		all, err = cdp.cookies(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	out := make([]session.Cookie, 0, len(all))
	for _, ck := range all {
		if ck == nil {
			continue
		}
		d := strings.TrimPrefix(strings.ToLower(ck.Domain), ".")
		if d != domain && !strings.HasSuffix(d, "."+domain) {
			continue
		}
		out = append(out, session.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain})
	}
	slog.Debug("cdpcontrol cookies read", "domain", domain, "total", len(all), "matched", len(out))
	return out, nil
}

// readyState evaluates document.readyState in the tab. Any failure reads
// as still loading. s.info is guarded by c.mu and is not read here.
func (c *Client) readyState(ctx context.Context, id target.ID, s *tabSession) string {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return session.TabStatusLoading
	}

	sessionID, err := c.ensureSession(ctx, cdp, id, s)
	if err != nil {
		slog.Debug("cdpcontrol ready state attach failed", "target_id", id, "error", err)
		return session.TabStatusLoading
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	state, err := cdp.evaluate(evalCtx, sessionID, "document.readyState")
	if err != nil {
		slog.Debug("cdpcontrol ready state eval failed", "target_id", id, "error", err)
		s.mu.Lock()
		s.sessionID = ""
		s.mu.Unlock()
		return session.TabStatusLoading
	}
	if state == session.TabStatusComplete {
		return session.TabStatusComplete
	}
	return session.TabStatusLoading
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, id target.ID, s *tabSession) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID != "" {
		return s.sessionID, nil
	}

	attachCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	sid, err := cdp.attachToTarget(attachCtx, id)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	s.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", id, "session_id", sid)
	return sid, nil
}

// do runs fn once and, after a transient failure, reconnects and runs it
// one more time.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context, *rawCDP) error) error {
	err := c.run(ctx, op, fn)
	if err == nil || ctx.Err() != nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol retry after transient failure", "op", op, "error", err)
	if recErr := c.reconnect(ctx); recErr != nil {
		slog.Error("cdpcontrol reconnect failed during retry", "op", op, "error", recErr)
		return recErr
	}
	return c.run(ctx, op, fn)
}

func (c *Client) run(ctx context.Context, op string, fn func(context.Context, *rawCDP) error) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := fn(cmdCtx, cdp); err != nil {
		return classify(op, err, cmdCtx)
	}
	return nil
}

// classify maps a raw protocol or transport error onto the error types the
// session layer understands.
func classify(op string, err error, cmdCtx context.Context) error {
	var cmdErr *commandError
	if errors.As(err, &cmdErr) {
		msg := strings.ToLower(cmdErr.Message)
		if containsAny(msg, notFoundHints) {
			return newError(CodeCommandFailed, op+": "+cmdErr.Message, session.ErrTabNotFound)
		}
		if containsAny(msg, permissionHints) {
			return session.NewError(session.KindPermission, "Permission denied: "+cmdErr.Message, err)
		}
		return newError(CodeCommandFailed, op+" failed", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return newError(CodeCommandTimeout, op+" timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return newError(CodeCDPUnavailable, op+" failed", err)
}

func (c *Client) remember(info target.Info) *tabSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tabs[info.TargetID]
	if s == nil {
		s = &tabSession{}
		c.tabs[info.TargetID] = s
		c.order = append(c.order, info.TargetID)
	}
	s.info = info
	return s
}

func (c *Client) forget(id target.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tabs, id)
	for i, tid := range c.order {
		if tid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTabsLocked(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	seen := make(map[target.ID]bool, len(targets))
	order := make([]target.ID, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		seen[t.TargetID] = true
		order = append(order, t.TargetID)
		if s := c.tabs[t.TargetID]; s != nil {
			s.info = *t
			continue
		}
		c.tabs[t.TargetID] = &tabSession{info: *t}
	}

	for id := range c.tabs {
		if !seen[id] {
			delete(c.tabs, id)
		}
	}
	c.order = order

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(order))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeCommandFailed:
		if coded.Cause == nil || errors.Is(coded.Cause, session.ErrTabNotFound) {
			return false
		}
		return containsAny(strings.ToLower(coded.Cause.Error()), transientHints)
	}
	return false
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
