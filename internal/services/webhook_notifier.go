package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"subscription-api/internal/subscription"
	"subscription-api/pkg/logging"
)

// WebhookNotifier posts signed status-change callbacks to an internal URL
type WebhookNotifier struct {
	callbackURL string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		callbackURL: callbackURL,
		secret:      secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// StatusChangedPayload is the body of a subscription.status_changed callback
type StatusChangedPayload struct {
	Event       string `json:"event"` // always "subscription.status_changed"
	TenantID    string `json:"tenant_id"`
	Tier        string `json:"tier"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	Reason      string `json:"reason"`
	Automatic   bool   `json:"automatic"`
	GraceEndsAt string `json:"grace_ends_at,omitempty"` // ISO 8601 format
	Timestamp   string `json:"timestamp"`               // ISO 8601 format
}

// NotifyStatusChanged sends the callback, retrying on failure.
func (wn *WebhookNotifier) NotifyStatusChanged(ctx context.Context, c subscription.Change) error {
	if wn.callbackURL == "" {
		return nil
	}

	payload := StatusChangedPayload{
		Event:      "subscription.status_changed",
		TenantID:   c.TenantID,
		Tier:       string(c.Tier),
		FromStatus: string(c.From),
		ToStatus:   string(c.To),
		Reason:     c.Reason,
		Automatic:  c.Automatic,
		Timestamp:  c.At.UTC().Format(time.RFC3339),
	}
	if c.GraceEnds != nil {
		payload.GraceEndsAt = c.GraceEnds.UTC().Format(time.RFC3339)
	}

	return wn.sendWithRetry(ctx, payload)
}

// sendWithRetry sends webhook with retry mechanism
// Retry schedule: 1s, 5s, 30s (3 attempts total)
func (wn *WebhookNotifier) sendWithRetry(ctx context.Context, payload StatusChangedPayload) error {
	maxRetries := len(wn.retryDelays)

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = wn.sendWebhook(ctx, payload)
		if err == nil {
			logging.Infof("Status webhook sent - tenant: %s, %s -> %s, attempt: %d",
				payload.TenantID, payload.FromStatus, payload.ToStatus, attempt+1)
			return nil
		}

		logging.Errorf("Status webhook failed - tenant: %s, attempt: %d, error: %v",
			payload.TenantID, attempt+1, err)

		if attempt < maxRetries-1 {
			select {
			case <-time.After(wn.retryDelays[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("status webhook failed after %d attempts: %w", maxRetries, err)
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(ctx context.Context, payload StatusChangedPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Subscription-Webhook/1.0")
	if wn.secret != "" {
		req.Header.Set("X-Subscription-Signature", SignSHA256(jsonData, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// SignSHA256 returns the hex HMAC-SHA256 of payload
func SignSHA256(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
