// Package webhook implements a generic publisher that hands posts to an
// external delivery service over HTTP. It backs platforms without a native
// client.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// Config describes the webhook destination.
type Config struct {
	URL string
	// AuthHeader is sent as the Authorization header value, if set.
	AuthHeader string
	// IDExpression is a JMESPath expression that extracts the external post
	// identifier from the response body.
	IDExpression string
	// Platform is the platform identifier this publisher serves.
	Platform string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Publisher delivers posts to the configured webhook.
type Publisher struct {
	url        string
	authHeader string
	idExpr     string
	platform   string
	client     *http.Client
	logger     *slog.Logger
}

// NewPublisher creates a webhook publisher from config. The ID expression is
// validated at construction.
func NewPublisher(cfg Config) (*Publisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	platform := strings.TrimSpace(cfg.Platform)
	if platform == "" {
		return nil, errors.New("webhook platform is required")
	}

	expr := strings.TrimSpace(cfg.IDExpression)
	if expr == "" {
		expr = "id"
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("compile id expression %q: %w", expr, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		url:        url,
		authHeader: strings.TrimSpace(cfg.AuthHeader),
		idExpr:     expr,
		platform:   platform,
		client:     hc,
		logger:     logger.With("component", "webhook_publisher", "platform", platform),
	}, nil
}

// Platform returns the platform identifier this publisher serves.
func (p *Publisher) Platform() string {
	return p.platform
}

// Publish sends the post to the webhook once per target and extracts the
// external identifier from each response.
func (p *Publisher) Publish(ctx context.Context, req *model.PublishRequest) (*model.PublishResult, error) {
	post := req.Post
	if post == nil {
		return nil, apperrors.Validation("publish request has no post")
	}

	result := &model.PublishResult{}
	for _, target := range post.Targets() {
		externalID, err := p.deliver(ctx, req, target)
		if err != nil {
			result.Targets = append(result.Targets, model.TargetResult{Target: target, Err: err})
			continue
		}
		result.Targets = append(result.Targets, model.TargetResult{Target: target, ExternalID: externalID})
	}

	result.Resolve()
	return result, nil
}

// deliveryPayload is the wire shape handed to the delivery service.
type deliveryPayload struct {
	PostID      string   `json:"post_id"`
	UserID      string   `json:"user_id"`
	Platform    string   `json:"platform"`
	PostType    string   `json:"post_type"`
	Title       *string  `json:"title,omitempty"`
	Text        string   `json:"text"`
	MediaURLs   []string `json:"media_urls,omitempty"`
	Target      string   `json:"target,omitempty"`
	AccessToken string   `json:"access_token"`
}

func (p *Publisher) deliver(ctx context.Context, req *model.PublishRequest, target string) (string, error) {
	post := req.Post
	body, err := json.Marshal(deliveryPayload{
		PostID:      post.ID,
		UserID:      post.UserID,
		Platform:    post.Platform,
		PostType:    string(post.PostType),
		Title:       post.Title,
		Text:        post.ContentText,
		MediaURLs:   post.MediaURLs,
		Target:      target,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		return "", fmt.Errorf("encode delivery payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create delivery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.authHeader != "" {
		httpReq.Header.Set("Authorization", p.authHeader)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &apperrors.PublishError{Platform: p.platform, Cause: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read delivery response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &apperrors.PublishError{
			Platform:   p.platform,
			StatusCode: resp.StatusCode,
			Message:    model.TruncateError(strings.TrimSpace(string(raw))),
			Permanent:  resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests,
		}
	}

	return p.extractID(raw)
}

func (p *Publisher) extractID(raw []byte) (string, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode delivery response: %w", err)
	}

	value, err := jmespath.Search(p.idExpr, data)
	if err != nil {
		return "", fmt.Errorf("evaluate id expression: %w", err)
	}

	switch v := value.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	case json.Number:
		return v.String(), nil
	}
	return "", &apperrors.PublishError{
		Platform: p.platform,
		Message:  "delivery response carried no post id",
	}
}
