package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier pushes plain-text notifications to an ntfy-style endpoint. It
// satisfies session.LoginNotifier.
type Notifier struct {
	client   *http.Client
	endpoint string
}

// New returns a Notifier, or nil when endpoint is empty.
func New(client *http.Client, endpoint string) *Notifier {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	return &Notifier{client: client, endpoint: endpoint}
}

// NotifyLoginRequired tells the user to log in to the site.
func (n *Notifier) NotifyLoginRequired(ctx context.Context, siteURL string) error {
	msg := fmt.Sprintf("Session expired. Open %s in your browser and log in.", siteURL)
	return send(ctx, n.client, n.endpoint, msg, map[string]string{
		"Title":    "Login required",
		"Tags":     "key",
		"Priority": "high",
		"Click":    siteURL,
	})
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return send(ctx, client, endpoint, message, nil)
}

func send(ctx context.Context, client *http.Client, endpoint, message string, headers map[string]string) error {
	if endpoint == "" {
		return errors.New("ntfy notification: missing endpoint")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
