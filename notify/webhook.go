package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	signatureHeader = "X-Signature"
	eventIDHeader   = "X-Event-Id"
	eventTypeHeader = "X-Event-Type"
)

// WebhookSink POSTs each event as JSON. When a secret is configured the body
// is signed with HMAC-SHA256 and the hex digest sent in X-Signature.
type WebhookSink struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
}

func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		URL:        url,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookBody struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *WebhookSink) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookBody{
		ID:         ev.ID,
		Topic:      ev.Topic,
		OccurredAt: ev.OccurredAt.UTC(),
		Payload:    ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventIDHeader, ev.ID)
	req.Header.Set(eventTypeHeader, ev.Topic)
	if s.Secret != "" {
		req.Header.Set(signatureHeader, Sign(s.Secret, body))
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned http %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
