// Package linkedin implements publishing to LinkedIn's REST posts API.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// PlatformName identifies this publisher in post rows and metrics.
const PlatformName = "LINKEDIN"

// MaxCommentaryLength is LinkedIn's limit on post commentary.
const MaxCommentaryLength = 3000

// Config describes how to reach the LinkedIn REST API.
type Config struct {
	// APIBaseURL is the API host, without a trailing slash.
	APIBaseURL string
	// Version is the LinkedIn-Version header value.
	Version string
	Timeout time.Duration
	// TargetDelay is the pause between consecutive group targets, keeping
	// fan-out under LinkedIn's burst limits.
	TargetDelay time.Duration
	Client      *http.Client
	Logger      *slog.Logger
}

// Client publishes scheduled posts to LinkedIn.
type Client struct {
	baseURL     string
	version     string
	targetDelay time.Duration
	client      *http.Client
	logger      *slog.Logger
}

// NewClient creates a LinkedIn client from config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("linkedin api base url is required")
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		return nil, errors.New("linkedin version is required")
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

	delay := cfg.TargetDelay
	if delay < 0 {
		delay = 0
	}

	return &Client{
		baseURL:     baseURL,
		version:     version,
		targetDelay: delay,
		client:      hc,
		logger:      logger.With("component", "linkedin"),
	}, nil
}

// Platform returns the platform identifier for this publisher.
func (c *Client) Platform() string {
	return PlatformName
}

// Publish delivers the post to every target, fanning out across groups.
// Per-target failures land in the result; the error return is reserved for
// requests that never got off the ground.
func (c *Client) Publish(ctx context.Context, req *model.PublishRequest) (*model.PublishResult, error) {
	post := req.Post
	if post == nil {
		return nil, apperrors.Validation("publish request has no post")
	}
	if err := validateContent(post); err != nil {
		return nil, err
	}

	result := &model.PublishResult{}

	author := strings.TrimSpace(req.AuthorRef)
	if author == "" {
		resolved, err := c.resolveAuthor(ctx, req.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("resolve author: %w", err)
		}
		author = resolved
		result.ResolvedAuthorRef = resolved
	}

	for i, target := range post.Targets() {
		if i > 0 && c.targetDelay > 0 {
			select {
			case <-ctx.Done():
				result.Targets = append(result.Targets, model.TargetResult{Target: target, Err: ctx.Err()})
				continue
			case <-time.After(c.targetDelay):
			}
		}
		externalID, err := c.publishOne(ctx, publishParams{
			req:    req,
			author: author,
			group:  target,
		})
		if err != nil {
			// A duplicate rejection carries the identifier of the post the
			// platform already holds; treat it as success.
			if pe, ok := apperrors.AsPublishError(err); ok && pe.Duplicate() {
				c.logger.InfoContext(ctx, "recovered duplicate post",
					"post_id", post.ID, "external_id", pe.RecoveredID)
				result.Targets = append(result.Targets, model.TargetResult{
					Target:     target,
					ExternalID: pe.RecoveredID,
				})
				continue
			}
			result.Targets = append(result.Targets, model.TargetResult{Target: target, Err: err})
			continue
		}
		result.Targets = append(result.Targets, model.TargetResult{Target: target, ExternalID: externalID})
	}

	result.Resolve()
	return result, nil
}

func validateContent(post *model.ScheduledPost) error {
	if strings.TrimSpace(post.ContentText) == "" && !post.HasMedia() {
		return &apperrors.PublishError{
			Platform:  PlatformName,
			Message:   "post has neither text nor media",
			Permanent: true,
		}
	}
	if utf8.RuneCountInString(post.ContentText) > MaxCommentaryLength {
		return &apperrors.PublishError{
			Platform:  PlatformName,
			Message:   fmt.Sprintf("commentary exceeds %d characters", MaxCommentaryLength),
			Permanent: true,
		}
	}
	return nil
}

// resolveAuthor determines the author URN for the access token. The OpenID
// userinfo endpoint is tried first; tokens from older grants fall back to /v2/me.
func (c *Client) resolveAuthor(ctx context.Context, accessToken string) (string, error) {
	var userinfo struct {
		Sub string `json:"sub"`
	}
	err := c.getJSON(ctx, c.baseURL+"/v2/userinfo", accessToken, &userinfo)
	if err == nil && userinfo.Sub != "" {
		return "urn:li:person:" + userinfo.Sub, nil
	}

	var me struct {
		ID string `json:"id"`
	}
	if meErr := c.getJSON(ctx, c.baseURL+"/v2/me", accessToken, &me); meErr != nil {
		return "", errors.Join(err, meErr)
	}
	if me.ID == "" {
		return "", errors.New("identity lookup returned no id")
	}
	return "urn:li:person:" + me.ID, nil
}

type publishParams struct {
	req    *model.PublishRequest
	author string
	// group is the group id for CONTAINER posts, empty for feed posts.
	group string
}

// publishOne posts to a single destination and returns the new post URN.
func (c *Client) publishOne(ctx context.Context, p publishParams) (string, error) {
	body, err := json.Marshal(buildPostBody(p))
	if err != nil {
		return "", fmt.Errorf("encode post body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/posts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create post request: %w", err)
	}
	c.setHeaders(httpReq, p.req.AccessToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &apperrors.PublishError{Platform: PlatformName, Cause: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		id := resp.Header.Get("X-Restli-Id")
		if id == "" {
			id = resp.Header.Get("X-Linkedin-Id")
		}
		if id == "" {
			return "", &apperrors.PublishError{
				Platform:   PlatformName,
				StatusCode: resp.StatusCode,
				Message:    "response carried no post id header",
			}
		}
		return id, nil
	}

	return "", c.errorFromResponse(resp)
}

func buildPostBody(p publishParams) map[string]any {
	post := p.req.Post

	body := map[string]any{
		"author":         p.author,
		"commentary":     post.ContentText,
		"lifecycleState": "PUBLISHED",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"isReshareDisabledByAuthor": false,
	}

	if p.group != "" {
		body["visibility"] = "CONTAINER"
		body["container"] = "urn:li:group:" + p.group
	} else {
		body["visibility"] = "PUBLIC"
	}

	if link := shareLink(post); link != "" {
		article := map[string]any{"source": link}
		if post.Title != nil && *post.Title != "" {
			article["title"] = *post.Title
		}
		if p.req.PreviewImageURL != "" {
			article["thumbnail"] = p.req.PreviewImageURL
		}
		body["content"] = map[string]any{"article": article}
	}

	return body
}

// shareLink picks the URL a non-plain-text post shares as an article card.
func shareLink(post *model.ScheduledPost) string {
	if post.PostType == model.PostTypeText {
		return ""
	}
	if len(post.MediaURLs) > 0 {
		return post.MediaURLs[0]
	}
	return ""
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", c.version)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
}

// duplicateURNPattern matches the existing post identifier LinkedIn embeds in
// duplicate rejection messages.
var duplicateURNPattern = regexp.MustCompile(`urn:li:(?:share|ugcPost|post):\d+`)

// errorFromResponse turns a non-2xx response into a structured PublishError,
// pulling the recovered identifier out of duplicate rejections.
func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var payload struct {
		Message          string `json:"message"`
		ServiceErrorCode int    `json:"serviceErrorCode"`
		Code             string `json:"code"`
	}
	_ = json.Unmarshal(raw, &payload)
	message := payload.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	pubErr := &apperrors.PublishError{
		Platform:   PlatformName,
		StatusCode: resp.StatusCode,
		Code:       payload.Code,
		Message:    model.TruncateError(message),
	}

	if isDuplicateRejection(resp.StatusCode, message, payload.Code) {
		pubErr.RecoveredID = duplicateURNPattern.FindString(message)
	}

	// Client errors other than throttling will not succeed on retry.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		pubErr.Permanent = true
	}

	return pubErr
}

func isDuplicateRejection(status int, message, code string) bool {
	if status != http.StatusUnprocessableEntity && status != http.StatusConflict && status != http.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "duplicate") || strings.EqualFold(code, "DUPLICATE_POST")
}

func (c *Client) getJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("LinkedIn-Version", c.version)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &apperrors.PublishError{
			Platform:   PlatformName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("GET %s returned status %d", url, resp.StatusCode),
		}
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
