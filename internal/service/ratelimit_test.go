package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

type fakeHistoryRepo struct {
	count    int
	countErr error
	last     *time.Time
	lastErr  error
	recorded []*model.PostHistory
}

func (f *fakeHistoryRepo) Record(_ context.Context, entries []*model.PostHistory) error {
	f.recorded = append(f.recorded, entries...)
	return nil
}

func (f *fakeHistoryRepo) CountSince(context.Context, core.HistoryCountParams) (int, error) {
	return f.count, f.countErr
}

func (f *fakeHistoryRepo) LastPostedAt(context.Context, string, string) (*time.Time, error) {
	return f.last, f.lastErr
}

func (f *fakeHistoryRepo) DeleteOlderThan(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func newRateLimiter(t *testing.T, history core.HistoryRepository) *RateLimitService {
	t.Helper()
	svc, err := NewRateLimitService(RateLimitServiceOptions{History: history})
	require.NoError(t, err)
	return svc
}

func TestAllowUnderCeilings(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	svc := newRateLimiter(t, &fakeHistoryRepo{count: 3, last: &earlier})

	decision, err := svc.Allow(context.Background(), "user-1", "LINKEDIN", now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAllowDailyLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newRateLimiter(t, &fakeHistoryRepo{count: 25})

	decision, err := svc.Allow(context.Background(), "user-1", "LINKEDIN", now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "Daily limit")
	// Retry opens at the next UTC midnight.
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), decision.RetryAt)
}

func TestAllowMinInterval(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-5 * time.Minute)
	svc := newRateLimiter(t, &fakeHistoryRepo{count: 1, last: &last})

	decision, err := svc.Allow(context.Background(), "user-1", "LINKEDIN", now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "Minimum interval")
	assert.Equal(t, last.Add(15*time.Minute), decision.RetryAt)
}

func TestAllowFailsClosed(t *testing.T) {
	now := time.Now().UTC()
	svc := newRateLimiter(t, &fakeHistoryRepo{countErr: errors.New("connection refused")})

	decision, err := svc.Allow(context.Background(), "user-1", "LINKEDIN", now)
	require.Error(t, err)
	assert.False(t, decision.Allowed)

	svc = newRateLimiter(t, &fakeHistoryRepo{count: 1, lastErr: errors.New("connection refused")})
	decision, err = svc.Allow(context.Background(), "user-1", "LINKEDIN", now)
	require.Error(t, err)
	assert.False(t, decision.Allowed)
}

func TestPolicyFallback(t *testing.T) {
	svc := newRateLimiter(t, &fakeHistoryRepo{})

	assert.Equal(t, 25, svc.PolicyFor("linkedin").DailyLimit)
	assert.Equal(t, fallbackPolicy, svc.PolicyFor("MASTODON"))
}
