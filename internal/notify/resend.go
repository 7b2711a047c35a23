// ABOUTME: Notifier backed by the Resend transactional email HTTP API
// ABOUTME: Posts {from, to, subject, html} with a bearer API key

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultResendURL is the Resend email endpoint.
const DefaultResendURL = "https://api.resend.com/emails"

// ResendNotifier sends email through Resend.
type ResendNotifier struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
}

// NewResendNotifier creates a ResendNotifier. An empty apiURL uses DefaultResendURL.
func NewResendNotifier(apiURL, apiKey, from string) *ResendNotifier {
	if apiURL == "" {
		apiURL = DefaultResendURL
	}
	return &ResendNotifier{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Send posts the message and fails on any non-2xx response.
func (n *ResendNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(resendRequest{
		From:    n.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshaling email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
