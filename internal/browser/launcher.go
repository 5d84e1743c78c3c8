package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	ExecPath   string
	WindowSize string
}

// Launcher manages the lifecycle of a headful browser the user can log in
// with. The profile directory persists between runs.
type Launcher struct {
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	alloc   chromedp.Allocator
	running bool
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,900"
	}
	return &Launcher{cfg: cfg}
}

// isPortInUse checks whether a TCP port is already listening.
func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// allocatorOptions builds the exec allocator flags. chromedp's default
// options are not used: they run headless with a throwaway profile.
func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(l.cfg.ProfileDir),
		chromedp.Flag("headless", false),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(l.cfg.CDPPort)),
		chromedp.Flag("remote-debugging-address", l.cfg.CDPAddress),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("window-size", l.cfg.WindowSize),
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Launch starts the browser process unless the CDP port is already in use.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("browser already running, skipping launch",
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return nil
	}

	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	c := chromedp.FromContext(allocCtx)
	if c == nil || c.Allocator == nil {
		cancel()
		return fmt.Errorf("browser allocator unavailable")
	}

	if _, err := c.Allocator.Allocate(allocCtx); err != nil {
		cancel()
		return fmt.Errorf("start browser: %w", err)
	}

	l.mu.Lock()
	l.cancel = cancel
	l.alloc = c.Allocator
	l.running = true
	l.mu.Unlock()
	slog.Info("browser process started", "profile_dir", l.cfg.ProfileDir)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready",
		"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)

	if l.cfg.StartURL != "" {
		if err := openStartURL(ctx, l.cfg.CDPAddress, l.cfg.CDPPort, l.cfg.StartURL); err != nil {
			slog.Warn("browser start url not opened", "url", l.cfg.StartURL, "error", err)
		}
	}
	return nil
}

// openStartURL opens url through the /json/new endpoint.
func openStartURL(ctx context.Context, address string, port int, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("http://%s/json/new?%s", net.JoinHostPort(address, strconv.Itoa(port)), url)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("/json/new: HTTP %d", resp.StatusCode)
	}
	return nil
}

// waitForCDP polls the CDP /json/version endpoint until it responds.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	return waitForCDP(ctx, l.cfg.CDPAddress, l.cfg.CDPPort, 15*time.Second, 250*time.Millisecond)
}

func waitForCDP(ctx context.Context, address string, port int, timeout, interval time.Duration) error {
	url := fmt.Sprintf("http://%s/json/version", net.JoinHostPort(address, strconv.Itoa(port)))
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", timeout, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stop cancels the allocator, which kills the browser, and waits for the
// process to exit.
func (l *Launcher) Stop() {
	l.mu.Lock()
	cancel, alloc := l.cancel, l.alloc
	l.cancel, l.alloc = nil, nil
	l.running = false
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	slog.Info("stopping browser")
	cancel()

	done := make(chan struct{})
	go func() {
		alloc.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("browser stopped")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit within 5s")
	}
}
