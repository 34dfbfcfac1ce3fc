package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookSender posts messages as JSON to a channel URL. Private and
// loopback hosts are rejected unless the channel sets AllowPrivate.
type WebhookSender struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(logger *slog.Logger) *WebhookSender {
	return &WebhookSender{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			// Redirects could land on an internal host.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (s *WebhookSender) Type() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, ch *Channel, msg *Message) error {
	if ch.URL == "" {
		return fmt.Errorf("webhook channel %q has no url", ch.Name)
	}
	if !ch.AllowPrivate {
		if err := validateWebhookURL(ch.URL); err != nil {
			return fmt.Errorf("webhook URL rejected: %w", err)
		}
	}

	body, err := json.Marshal(map[string]any{
		"subject":  msg.Subject,
		"body":     msg.Body,
		"metadata": msg.Metadata,
		"channel":  ch.Name,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Warden-Webhook/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// validateWebhookURL checks that the URL uses http(s) and resolves only to
// public addresses.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}

	hostname := u.Hostname()
	switch strings.ToLower(hostname) {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return fmt.Errorf("loopback addresses not allowed")
	}

	ips, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", hostname, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP %s not allowed", ipStr)
		}
	}
	return nil
}
