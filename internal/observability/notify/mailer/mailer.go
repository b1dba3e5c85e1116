package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/socialsyncara/publish-worker/internal/observability/notify"
)

// Config captures the subset of the mail service's webhook behaviour we need.
type Config struct {
	WebhookURL   string
	FromName     string
	AppURLPrefix string
	Timeout      time.Duration
	RetryLimit   int
	Client       *http.Client
}

// Client delivers reconnect emails through the mail service webhook.
type Client struct {
	webhookURL   string
	fromName     string
	appURLPrefix string
	retryLimit   int
	client       *http.Client
}

// NewClient builds a mail webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("mailer webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retries := cfg.RetryLimit
	if retries < 0 {
		retries = 0
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	fromName := strings.TrimSpace(cfg.FromName)
	if fromName == "" {
		fromName = "socialsync"
	}

	return &Client{
		webhookURL:   webhookURL,
		fromName:     fromName,
		appURLPrefix: strings.TrimRight(strings.TrimSpace(cfg.AppURLPrefix), "/"),
		retryLimit:   retries,
		client:       hc,
	}, nil
}

// SendAccountDisconnected emails the account owner asking them to reconnect.
// Payloads without a recipient address are dropped.
func (c *Client) SendAccountDisconnected(ctx context.Context, payload notify.AccountDisconnectedPayload) error {
	if strings.TrimSpace(payload.UserEmail) == "" {
		return nil
	}

	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			// Simple linear backoff to avoid thundering retries.
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

func (c *Client) formatMessage(payload notify.AccountDisconnectedPayload) map[string]any {
	occurred := payload.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Your %s account was disconnected and scheduled posts for it are on hold.\n\n", payload.Platform)
	if payload.Cause != "" {
		fmt.Fprintf(&text, "Reason: %s\n\n", payload.Cause)
	}
	if c.appURLPrefix != "" {
		fmt.Fprintf(&text, "Reconnect it here: %s/settings/accounts\n\n", c.appURLPrefix)
	} else {
		text.WriteString("Please reconnect it from your account settings.\n\n")
	}
	fmt.Fprintf(&text, "Disconnected at %s.", occurred.UTC().Format(time.RFC1123))

	return map[string]any{
		"to":        payload.UserEmail,
		"from_name": c.fromName,
		"subject":   fmt.Sprintf("Action needed: reconnect your %s account", payload.Platform),
		"text":      text.String(),
		"metadata": map[string]string{
			"account_id": payload.AccountID,
			"user_id":    payload.UserID,
			"platform":   payload.Platform,
		},
	}
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post mail webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail webhook returned status %d", resp.StatusCode)
	}
	return nil
}
