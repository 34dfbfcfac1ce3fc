package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackSender posts messages with the Slack Web API. Each channel carries
// its own bot token.
type SlackSender struct {
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackSender creates a Slack sender. An empty apiURL selects the
// public chat.postMessage endpoint.
func NewSlackSender(apiURL string, logger *slog.Logger) *SlackSender {
	if apiURL == "" {
		apiURL = slackPostMessageURL
	}
	return &SlackSender{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (s *SlackSender) Type() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, ch *Channel, msg *Message) error {
	if ch.ChannelID == "" || ch.Token == "" {
		return fmt.Errorf("slack channel %q needs channel_id and token", ch.Name)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = fmt.Sprintf("*%s*\n%s", msg.Subject, text)
	}
	body, err := json.Marshal(map[string]any{
		"channel": ch.ChannelID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+ch.Token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned %d: %s", resp.StatusCode, string(respBody))
	}

	// Slack answers 200 on application errors; check "ok".
	var slackResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err == nil && !slackResp.OK {
		return fmt.Errorf("slack API error: %s", slackResp.Error)
	}
	return nil
}
