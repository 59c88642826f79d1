package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// WebhookNotifier posts run reports as an Adaptive Card to a Teams incoming webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type cardMessage struct {
	Type        string           `json:"type"`
	Attachments []cardAttachment `json:"attachments"`
}

type cardAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string         `json:"$schema"`
	Type    string         `json:"type"`
	Version string         `json:"version"`
	MSTeams map[string]any `json:"msteams,omitempty"`
	Body    []any          `json:"body"`
}

type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Wrap   bool   `json:"wrap"`
	Style  string `json:"style,omitempty"`
	Weight string `json:"weight,omitempty"`
	Size   string `json:"size,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []Fact `json:"facts"`
}

// NewWebhookNotifier constructs a notifier. A zero timeout uses 10 seconds.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify posts the report.
func (n *WebhookNotifier) Notify(ctx context.Context, report RunReport) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(buildCard(report))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: http %d", resp.StatusCode)
	}
	return nil
}

func buildCard(report RunReport) cardMessage {
	body := []any{
		textBlock{Type: "TextBlock", Text: report.Title, Wrap: true, Style: "heading"},
	}
	for _, line := range report.Headlines {
		body = append(body, textBlock{Type: "TextBlock", Text: line, Wrap: true, Weight: "Bolder", Size: "Medium"})
	}
	if len(report.Facts) > 0 {
		body = append(body, factSet{Type: "FactSet", Facts: report.Facts})
	}
	return cardMessage{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: adaptiveCardContentType,
			Content: adaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.5",
				MSTeams: map[string]any{"width": "full"},
				Body:    body,
			},
		}},
	}
}
