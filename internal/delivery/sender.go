// Package delivery sends plan actions to the outbound messaging channel.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"leadgate/internal/plan"
)

// WebhookSender delivers actions by POSTing them to an outbound webhook,
// typically the chat platform bridge.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSender creates a sender targeting the given URL. token is sent
// as a bearer credential when non-empty.
func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type outboundMessage struct {
	LeadID  string           `json:"lead_id"`
	Text    string           `json:"text"`
	Buttons []map[string]any `json:"buttons,omitempty"`
	Media   []map[string]any `json:"media,omitempty"`
}

// Send POSTs one action to the outbound webhook.
func (s *WebhookSender) Send(ctx context.Context, leadID string, action plan.Action) error {
	msg := outboundMessage{LeadID: leadID, Text: action.Text}
	for _, b := range action.Buttons {
		msg.Buttons = append(msg.Buttons, map[string]any{"label": b.Label, "kind": b.Kind, "url": b.URL})
	}
	for _, m := range action.Media {
		msg.Media = append(msg.Media, map[string]any{"kind": m.Kind, "url": m.URL})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("outbound webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NopSender logs actions instead of delivering them. Used by the CLI and in
// dry runs.
type NopSender struct{}

// Send logs the action and reports success.
func (NopSender) Send(_ context.Context, leadID string, action plan.Action) error {
	log.Printf("delivery (dry run): lead=%s text=%q", leadID, action.Text)
	return nil
}
