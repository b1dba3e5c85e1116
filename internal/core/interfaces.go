package core

import (
	"context"
	"time"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// PostRepository defines the interface for scheduled post data operations.
type PostRepository interface {
	GetByID(ctx context.Context, id string) (*model.ScheduledPost, error)

	// ClaimDue atomically moves up to limit due pending posts to processing
	// and returns them, oldest scheduled first. Concurrent claimants never
	// receive the same post.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledPost, error)

	// RecoverStale returns posts stuck in processing since before cutoff to
	// pending, recording why, and reports how many were recovered.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)

	// Complete moves a processing post to a successful terminal status
	// (published or partial) and records its external identifiers.
	Complete(ctx context.Context, params CompletePostParams) error

	// Fail records a failed attempt. The post returns to pending until its
	// retry budget is exhausted, then lands in failed. Returns the resulting
	// status and attempt count.
	Fail(ctx context.Context, id, errMsg string) (model.PostStatus, int, error)

	// MarkFailed moves a processing post straight to failed, bypassing the
	// retry ceiling. Used for permanent failures where another attempt
	// cannot succeed.
	MarkFailed(ctx context.Context, id, errMsg string) error

	// Reschedule returns a processing post to pending with a future due time,
	// without consuming a retry. Used for transient infrastructure failures
	// and rate limit deferrals.
	Reschedule(ctx context.Context, params ReschedulePostParams) error

	// Cancel moves a pending post to cancelled. Returns false if the post
	// was not pending.
	Cancel(ctx context.Context, id string) (bool, error)
}

// CompletePostParams groups parameters for PostRepository.Complete.
type CompletePostParams struct {
	ID          string
	Status      model.PostStatus
	ExternalIDs []string
	// ErrMsg records per-target failures on partial results, if any.
	ErrMsg      *string
	PublishedAt time.Time
}

// ReschedulePostParams groups parameters for PostRepository.Reschedule.
type ReschedulePostParams struct {
	ID    string
	RunAt time.Time
	Cause string
}

// AccountRepository defines the interface for social account data operations.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*model.SocialAccount, error)

	// UpdateTokens conditionally stores refreshed tokens and returns the row
	// as stored. When the row was refreshed by another claimant after
	// observedAt, the stored tokens win and the update is a no-op.
	UpdateTokens(ctx context.Context, upd model.TokenUpdate) (*model.SocialAccount, error)

	// MarkRevoked flips the account to revoked after the provider rejected
	// its refresh grant.
	MarkRevoked(ctx context.Context, id string) error

	// UpdateAuthorRef caches the provider-side author identifier resolved
	// during publishing so later posts skip the lookup.
	UpdateAuthorRef(ctx context.Context, id, authorRef string) error
}

// HistoryRepository defines the interface for post history data operations.
// History rows feed the posting rate limiter.
type HistoryRepository interface {
	// Record appends the entries atomically; a fan-out's rows land together
	// or not at all.
	Record(ctx context.Context, entries []*model.PostHistory) error
	CountSince(ctx context.Context, params HistoryCountParams) (int, error)
	LastPostedAt(ctx context.Context, userID, platform string) (*time.Time, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// HistoryCountParams groups parameters for HistoryRepository.CountSince.
type HistoryCountParams struct {
	UserID   string
	Platform string
	Since    time.Time
}

// CycleLogRepository defines the interface for worker cycle log data operations.
type CycleLogRepository interface {
	Record(ctx context.Context, entry *model.CycleLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Publisher delivers a post to one social platform.
// Per-target failures are reported inside the result; the error return is
// reserved for failures that prevented any attempt.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, req *model.PublishRequest) (*model.PublishResult, error)
}

// TokenSource hands the worker a usable access token for an account,
// refreshing or failing as needed.
type TokenSource interface {
	AccessToken(ctx context.Context, account *model.SocialAccount) (string, error)
}

// RateLimiter answers whether an account may post now.
type RateLimiter interface {
	Allow(ctx context.Context, userID, platform string, now time.Time) (RateDecision, error)
}

// RateDecision is the rate limiter's answer for one account and platform.
type RateDecision struct {
	Allowed bool
	// RetryAt is when the account next falls under its ceiling.
	// Only meaningful when Allowed is false.
	RetryAt time.Time
	// Reason names the exceeded ceiling for logs.
	Reason string
}

// Notifier delivers user-facing notifications raised by the worker.
type Notifier interface {
	AccountDisconnected(ctx context.Context, account *model.SocialAccount, cause string)
}
