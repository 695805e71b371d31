package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketguard-backend/internal/models"
)

// SlackNotifier posts CRITICAL security events to an incoming webhook.
// Lower levels are dropped.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

type SlackMessage struct {
	Blocks []Block `json:"blocks"`
}

type Block struct {
	Type   string  `json:"type"`
	Text   *Text   `json:"text,omitempty"`
	Fields []*Text `json:"fields,omitempty"`
}

type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, ev models.SecurityEvent) error {
	if s.webhookURL == "" || ev.Level != models.LevelCritical {
		return nil
	}
	return s.sendMessage(ctx, buildAlertMessage(ev))
}

func buildAlertMessage(ev models.SecurityEvent) SlackMessage {
	emoji := "🚨"
	if ev.EventType == models.EventSystemLockdown {
		emoji = "🔒"
	}

	ip := ev.IPValue()
	if ip == "" {
		ip = "n/a"
	}

	return SlackMessage{
		Blocks: []Block{
			{
				Type: "header",
				Text: &Text{
					Type:  "plain_text",
					Text:  fmt.Sprintf("%s %s", emoji, ev.EventType),
					Emoji: true,
				},
			},
			{
				Type: "section",
				Text: &Text{Type: "mrkdwn", Text: ev.Description},
			},
			{
				Type: "section",
				Fields: []*Text{
					{Type: "mrkdwn", Text: "*IP:*\n" + ip},
					{Type: "mrkdwn", Text: "*At:*\n" + ev.CreatedAt.UTC().Format(time.RFC3339)},
				},
			},
		},
	}
}

func (s *SlackNotifier) sendMessage(ctx context.Context, message SlackMessage) error {
	reqBody, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack error: %d %s", resp.StatusCode, string(body))
	}
	return nil
}
