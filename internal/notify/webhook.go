package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mattjoyce/warmbridge/internal/webhook"
)

// DedupeHeader carries Notification.DedupeKey on webhook requests.
const DedupeHeader = "X-Warmbridge-Dedupe-Key"

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts notifications as JSON to an HTTP endpoint. When Secret is set
// the body is signed with HMAC-SHA256.
type Webhook struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

// NewWebhook returns a Webhook with its own HTTP client.
func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		URL:     url,
		Secret:  secret,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Notify posts n and treats any non-2xx status as failure.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DedupeHeader, n.DedupeKey)
	if w.Secret != "" {
		req.Header.Set(webhook.SignatureHeader, webhook.Sign(body, w.Secret))
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
