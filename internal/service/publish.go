package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
	"github.com/socialsyncara/publish-worker/internal/observability/metrics"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
)

// Outcome summarises what happened to one claimed post.
type Outcome string

const (
	// OutcomePublished means every target accepted the post.
	OutcomePublished Outcome = "published"
	// OutcomePartial means some targets accepted the post.
	OutcomePartial Outcome = "partial"
	// OutcomeSkipped means the post already carried external ids and was
	// completed without a platform call.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeferred means admission control pushed the post forward.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeRetrying means the attempt failed and the post returned to
	// pending.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeFailed means the post reached a terminal failed status.
	OutcomeFailed Outcome = "failed"
)

// Success reports whether at least one target accepted the post.
func (o Outcome) Success() bool {
	return o == OutcomePublished || o == OutcomePartial || o == OutcomeSkipped
}

// PublisherResolver finds the publisher responsible for a platform.
type PublisherResolver interface {
	For(platform string) (core.Publisher, bool)
}

// PreviewResolver resolves a social preview image for a page URL.
type PreviewResolver interface {
	PreviewImage(ctx context.Context, pageURL string) (string, error)
}

// ThumbnailResolver derives a thumbnail from a known video-hosting URL.
type ThumbnailResolver interface {
	VideoThumbnail(ctx context.Context, videoURL string) string
}

// PublishServiceOptions contains dependencies for creating a PublishService.
type PublishServiceOptions struct {
	Posts      core.PostRepository
	Accounts   core.AccountRepository
	History    core.HistoryRepository
	Tokens     core.TokenSource
	RateLimit  core.RateLimiter
	Publishers PublisherResolver

	// Previews resolves article preview images; optional.
	Previews PreviewResolver
	// Thumbnails derives video thumbnails; optional.
	Thumbnails ThumbnailResolver

	// RetryCooldown is how far forward a rate-limited post is pushed.
	RetryCooldown time.Duration

	TimeProvider data.TimeProvider
	Metrics      *statsd.Client
	Logger       *slog.Logger
}

// PublishService runs one claimed post through admission control, credential
// fetch, platform publish, and result persistence. It is the only writer
// that moves a post out of processing.
type PublishService struct {
	posts      core.PostRepository
	accounts   core.AccountRepository
	history    core.HistoryRepository
	tokens     core.TokenSource
	rateLimit  core.RateLimiter
	publishers PublisherResolver
	previews   PreviewResolver
	thumbnails ThumbnailResolver
	cooldown   time.Duration
	tp         data.TimeProvider
	metrics    *statsd.Client
	logger     *slog.Logger
}

// NewPublishService creates a publish service with the given options.
func NewPublishService(opts PublishServiceOptions) (*PublishService, error) {
	switch {
	case opts.Posts == nil:
		return nil, fmt.Errorf("post repository is required")
	case opts.Accounts == nil:
		return nil, fmt.Errorf("account repository is required")
	case opts.History == nil:
		return nil, fmt.Errorf("history repository is required")
	case opts.Tokens == nil:
		return nil, fmt.Errorf("token source is required")
	case opts.RateLimit == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case opts.Publishers == nil:
		return nil, fmt.Errorf("publisher resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	cooldown := opts.RetryCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &PublishService{
		posts:      opts.Posts,
		accounts:   opts.Accounts,
		history:    opts.History,
		tokens:     opts.Tokens,
		rateLimit:  opts.RateLimit,
		publishers: opts.Publishers,
		previews:   opts.Previews,
		thumbnails: opts.Thumbnails,
		cooldown:   cooldown,
		tp:         tp,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "publish"),
	}, nil
}

// Process takes a post already claimed into processing and drives it to its
// next status. Per-post errors are recorded on the post row; the error
// return reports persistence failures only.
func (s *PublishService) Process(ctx context.Context, post *model.ScheduledPost) (Outcome, error) {
	now := s.tp.Now()
	started := now

	// A post that already carries external ids was published by an earlier
	// attempt whose status write was lost. Never post it again.
	if len(post.ExternalPostIDs) > 0 {
		s.logger.InfoContext(ctx, "post already has external ids, completing without publish",
			"post_id", post.ID, "external_ids", post.ExternalPostIDs)
		err := s.posts.Complete(ctx, core.CompletePostParams{
			ID:          post.ID,
			Status:      model.PostStatusPublished,
			ExternalIDs: post.ExternalPostIDs,
			PublishedAt: now,
		})
		if err != nil {
			return OutcomeSkipped, err
		}
		s.emit(post, "published", metrics.ResultNoop, s.tp.Now().Sub(started), nil)
		return OutcomeSkipped, nil
	}

	decision, err := s.rateLimit.Allow(ctx, post.UserID, post.Platform, now)
	if err != nil || !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "rate check failed"
		}
		// Always the fixed cooldown, even when the limiter knows the window
		// reopens later. Short, uniform retries keep a deferred post first
		// in line the moment capacity frees up.
		runAt := now.Add(s.cooldown)
		s.logger.InfoContext(ctx, "post deferred by admission control",
			"post_id", post.ID, "platform", post.Platform,
			"reason", reason, "run_at", runAt)
		if rsErr := s.posts.Reschedule(ctx, core.ReschedulePostParams{
			ID:    post.ID,
			RunAt: runAt,
			Cause: reason,
		}); rsErr != nil {
			return OutcomeDeferred, rsErr
		}
		return OutcomeDeferred, nil
	}

	result, attemptErr := s.attempt(ctx, post)
	elapsed := s.tp.Now().Sub(started)

	if attemptErr != nil {
		return s.recordFailure(ctx, post, attemptErr, elapsed)
	}

	s.persistAuthorRef(ctx, post, result)

	switch result.Status {
	case model.PublishStatusPublished, model.PublishStatusPartial:
		var errMsg *string
		if len(result.Errors) > 0 {
			summary := result.ErrorSummary()
			errMsg = &summary
		}
		publishedAt := s.tp.Now()
		if err := s.posts.Complete(ctx, core.CompletePostParams{
			ID:          post.ID,
			Status:      model.PostStatus(result.Status),
			ExternalIDs: result.ExternalIDs,
			ErrMsg:      errMsg,
			PublishedAt: publishedAt,
		}); err != nil {
			return OutcomePublished, err
		}
		s.recordHistory(ctx, post, result.ExternalIDs, publishedAt)
		s.emit(post, string(result.Status), metrics.ResultSuccess, elapsed, nil)
		if result.Status == model.PublishStatusPartial {
			return OutcomePartial, nil
		}
		return OutcomePublished, nil
	default:
		return s.recordFailure(ctx, post, fmt.Errorf("%s", result.ErrorSummary()), elapsed)
	}
}

// attempt builds the publish request and calls the platform publisher.
func (s *PublishService) attempt(ctx context.Context, post *model.ScheduledPost) (*model.PublishResult, error) {
	publisher, ok := s.publishers.For(post.Platform)
	if !ok {
		return nil, fmt.Errorf("no publisher configured for platform %s", post.Platform)
	}

	account, err := s.accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", post.AccountID, err)
	}

	token, err := s.tokens.AccessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	req := &model.PublishRequest{
		Post:            post,
		AccessToken:     token,
		PreviewImageURL: s.resolvePreview(ctx, post),
	}
	if account.AuthorRef != nil {
		req.AuthorRef = *account.AuthorRef
	}

	return publisher.Publish(ctx, req)
}

// resolvePreview finds a preview image for posts that share a link. A
// supplied thumbnail wins, then a video-host derivation, then a page scrape.
// Failure here degrades to a plain link post, never a publish failure.
func (s *PublishService) resolvePreview(ctx context.Context, post *model.ScheduledPost) string {
	if post.ThumbnailURL != nil && strings.TrimSpace(*post.ThumbnailURL) != "" {
		return strings.TrimSpace(*post.ThumbnailURL)
	}
	if post.PostType == model.PostTypeText || len(post.MediaURLs) == 0 {
		return ""
	}
	link := post.MediaURLs[0]

	if post.PostType == model.PostTypeVideo && s.thumbnails != nil {
		if thumb := s.thumbnails.VideoThumbnail(ctx, link); thumb != "" {
			return thumb
		}
	}
	if s.previews != nil {
		img, err := s.previews.PreviewImage(ctx, link)
		if err != nil {
			s.logger.DebugContext(ctx, "preview image lookup failed",
				"post_id", post.ID, "url", link, "error", err)
			return ""
		}
		return img
	}
	return ""
}

// recordFailure routes a failed attempt to its terminal or retry path.
func (s *PublishService) recordFailure(ctx context.Context, post *model.ScheduledPost, attemptErr error, elapsed time.Duration) (Outcome, error) {
	msg := model.TruncateError(attemptErr.Error())

	if isPermanentFailure(attemptErr) {
		if err := s.posts.MarkFailed(ctx, post.ID, msg); err != nil {
			return OutcomeFailed, err
		}
		s.logger.WarnContext(ctx, "post failed permanently",
			"post_id", post.ID, "platform", post.Platform, "error", msg)
		s.emit(post, string(model.PostStatusFailed), metrics.ResultError, elapsed, attemptErr)
		return OutcomeFailed, nil
	}

	status, retries, err := s.posts.Fail(ctx, post.ID, msg)
	if err != nil {
		return OutcomeRetrying, err
	}
	s.logger.WarnContext(ctx, "publish attempt failed",
		"post_id", post.ID, "platform", post.Platform,
		"status", status, "retry_count", retries, "error", msg)
	s.emit(post, string(status), metrics.ResultError, elapsed, attemptErr)
	if status == model.PostStatusFailed {
		return OutcomeFailed, nil
	}
	return OutcomeRetrying, nil
}

// recordHistory appends one history row per external id, all in one write.
// History feeds the rate limiter; a failure here must not undo a successful
// publish.
func (s *PublishService) recordHistory(ctx context.Context, post *model.ScheduledPost, externalIDs []string, postedAt time.Time) {
	entries := make([]*model.PostHistory, 0, len(externalIDs))
	for _, externalID := range externalIDs {
		entries = append(entries, &model.PostHistory{
			UserID:     post.UserID,
			Platform:   post.Platform,
			PostID:     post.ID,
			ExternalID: externalID,
			PostedAt:   postedAt,
		})
	}
	if err := s.history.Record(ctx, entries); err != nil {
		s.logger.ErrorContext(ctx, "failed to record post history",
			"post_id", post.ID, "external_ids", externalIDs, "error", err)
	}
}

// persistAuthorRef caches an author identity the publisher had to resolve.
func (s *PublishService) persistAuthorRef(ctx context.Context, post *model.ScheduledPost, result *model.PublishResult) {
	if result == nil || result.ResolvedAuthorRef == "" {
		return
	}
	if err := s.accounts.UpdateAuthorRef(ctx, post.AccountID, result.ResolvedAuthorRef); err != nil {
		s.logger.WarnContext(ctx, "failed to cache author ref",
			"account_id", post.AccountID, "error", err)
	}
}

func (s *PublishService) emit(post *model.ScheduledPost, status, result string, elapsed time.Duration, err error) {
	metrics.EmitPublish(s.metrics, metrics.PublishMetric{
		Platform: post.Platform,
		Status:   status,
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}

// isPermanentFailure reports whether retrying the attempt cannot succeed:
// the platform rejected the content itself, or validation failed before any
// network call.
func isPermanentFailure(err error) bool {
	if apperrors.IsValidation(err) {
		return true
	}
	if pe, ok := apperrors.AsPublishError(err); ok {
		return pe.Permanent
	}
	return false
}
