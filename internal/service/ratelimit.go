// Package service implements the publishing pipeline: admission control,
// credential management, publish orchestration, the worker cycle, and
// retention.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/observability/metrics"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
)

// RatePolicy is the posting ceiling for one platform.
type RatePolicy struct {
	// DailyLimit is the maximum number of published posts per calendar day
	// (UTC) for one (user, platform) pair.
	DailyLimit int
	// MinInterval is the minimum spacing between consecutive published
	// posts for one (user, platform) pair.
	MinInterval time.Duration
}

// defaultPolicies are the per-platform ceilings applied by NewRateLimitService.
var defaultPolicies = map[string]RatePolicy{
	"LINKEDIN": {DailyLimit: 25, MinInterval: 15 * time.Minute},
	"X":        {DailyLimit: 25, MinInterval: 5 * time.Minute},
	"REDDIT":   {DailyLimit: 10, MinInterval: 5 * time.Minute},
}

// fallbackPolicy applies to platforms without a dedicated policy.
var fallbackPolicy = RatePolicy{DailyLimit: 20, MinInterval: 5 * time.Minute}

// RateLimitServiceOptions contains dependencies for creating a RateLimitService.
type RateLimitServiceOptions struct {
	History core.HistoryRepository
	// Policies overrides the default per-platform ceilings when non-nil.
	Policies map[string]RatePolicy
	Metrics  *statsd.Client
	Logger   *slog.Logger
}

// RateLimitService answers whether an account may post right now, from the
// published-post history. Any error while checking denies admission.
type RateLimitService struct {
	history  core.HistoryRepository
	policies map[string]RatePolicy
	metrics  *statsd.Client
	logger   *slog.Logger
}

// NewRateLimitService creates a rate limit service with the given options.
func NewRateLimitService(opts RateLimitServiceOptions) (*RateLimitService, error) {
	if opts.History == nil {
		return nil, fmt.Errorf("history repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policies := opts.Policies
	if policies == nil {
		policies = defaultPolicies
	}
	return &RateLimitService{
		history:  opts.History,
		policies: policies,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "ratelimit"),
	}, nil
}

// PolicyFor returns the ceiling applied to a platform.
func (s *RateLimitService) PolicyFor(platform string) RatePolicy {
	if p, ok := s.policies[strings.ToUpper(platform)]; ok {
		return p
	}
	return fallbackPolicy
}

// Allow checks the daily ceiling and the minimum interval for (user,
// platform) at the given instant. Errors from the history store fail
// closed: the caller gets a deny with the error attached, never an
// unverified allow.
func (s *RateLimitService) Allow(ctx context.Context, userID, platform string, now time.Time) (core.RateDecision, error) {
	policy := s.PolicyFor(platform)

	dayStart := now.UTC().Truncate(24 * time.Hour)
	count, err := s.history.CountSince(ctx, core.HistoryCountParams{
		UserID:   userID,
		Platform: platform,
		Since:    dayStart,
	})
	if err != nil {
		s.logger.Error("daily count check failed, denying admission",
			"user_id", userID, "platform", platform, "error", err)
		return s.deny(platform, now.Add(time.Minute), "check_failed", "rate check failed"), err
	}
	if count >= policy.DailyLimit {
		return s.deny(platform, dayStart.Add(24*time.Hour), "daily_limit",
			fmt.Sprintf("Daily limit reached (%d/%d)", count, policy.DailyLimit)), nil
	}

	last, err := s.history.LastPostedAt(ctx, userID, platform)
	if err != nil {
		s.logger.Error("last posted check failed, denying admission",
			"user_id", userID, "platform", platform, "error", err)
		return s.deny(platform, now.Add(time.Minute), "check_failed", "rate check failed"), err
	}
	if last != nil {
		nextAllowed := last.Add(policy.MinInterval)
		if now.Before(nextAllowed) {
			wait := nextAllowed.Sub(now).Round(time.Second)
			return s.deny(platform, nextAllowed, "min_interval",
				fmt.Sprintf("Minimum interval not elapsed, next post allowed in %s", wait)), nil
		}
	}

	return core.RateDecision{Allowed: true}, nil
}

func (s *RateLimitService) deny(platform string, retryAt time.Time, kind, reason string) core.RateDecision {
	metrics.EmitRateLimitDeferral(s.metrics, platform, kind)
	return core.RateDecision{Allowed: false, RetryAt: retryAt, Reason: reason}
}
