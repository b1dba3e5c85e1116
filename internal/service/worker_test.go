package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

type fakeCycleLogRepo struct {
	mu      sync.Mutex
	entries []*model.CycleLog
}

func (f *fakeCycleLogRepo) Record(_ context.Context, entry *model.CycleLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeCycleLogRepo) DeleteOlderThan(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

type scriptedProcessor struct {
	outcomes map[string]Outcome
	errs     map[string]error
	block    chan struct{}
	seen     []string
}

func (p *scriptedProcessor) Process(_ context.Context, post *model.ScheduledPost) (Outcome, error) {
	if p.block != nil {
		<-p.block
	}
	p.seen = append(p.seen, post.ID)
	if err := p.errs[post.ID]; err != nil {
		return OutcomeRetrying, err
	}
	if outcome, ok := p.outcomes[post.ID]; ok {
		return outcome, nil
	}
	return OutcomePublished, nil
}

func duePost(id string, now time.Time) *model.ScheduledPost {
	return &model.ScheduledPost{
		ID:          id,
		UserID:      "user-1",
		AccountID:   "acct-1",
		Platform:    "LINKEDIN",
		PostType:    model.PostTypeText,
		ContentText: "hello",
		ScheduledAt: now.Add(-time.Minute),
		Status:      model.PostStatusPending,
	}
}

func newWorker(t *testing.T, posts *fakePostRepo, logs *fakeCycleLogRepo, proc PostProcessor, now time.Time) *WorkerService {
	t.Helper()
	svc, err := NewWorkerService(WorkerServiceOptions{
		Posts:        posts,
		CycleLogs:    logs,
		Processor:    proc,
		TimeProvider: data.NewFixedTimeProvider(now),
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleProcessesBatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := &fakePostRepo{claimable: []*model.ScheduledPost{
		duePost("post-1", now),
		duePost("post-2", now),
		duePost("post-3", now),
	}}
	logs := &fakeCycleLogRepo{}
	proc := &scriptedProcessor{
		outcomes: map[string]Outcome{"post-2": OutcomeFailed},
		errs:     map[string]error{"post-3": errors.New("db timeout")},
	}
	svc := newWorker(t, posts, logs, proc, now)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Errors)
	assert.Equal(t, []string{"post-1", "post-2", "post-3"}, proc.seen)

	require.Len(t, logs.entries, 1)
	entry := logs.entries[0]
	assert.Equal(t, 3, entry.Processed)
	assert.Equal(t, 1, entry.Published)
	assert.Equal(t, 1, entry.Failed)
	assert.Equal(t, 2, entry.ErrorsCount)
}

func TestRunCycleEmptyTickWritesNoLog(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	logs := &fakeCycleLogRepo{}
	svc := newWorker(t, &fakePostRepo{}, logs, &scriptedProcessor{}, now)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, logs.entries)
}

func TestRunCycleNonReentrant(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := &fakePostRepo{claimable: []*model.ScheduledPost{duePost("post-1", now)}}
	logs := &fakeCycleLogRepo{}
	proc := &scriptedProcessor{block: make(chan struct{})}
	svc := newWorker(t, posts, logs, proc, now)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.RunCycle(context.Background())
	}()

	// Wait until the first cycle holds the flag, then fire a second tick.
	require.Eventually(t, func() bool {
		return svc.running.Load()
	}, time.Second, 5*time.Millisecond)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	close(proc.block)
	<-done
	assert.False(t, svc.running.Load())
}

func TestRunCycleClaimFailureAborts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := &fakePostRepo{claimErr: errors.New("connection refused")}
	logs := &fakeCycleLogRepo{}
	svc := newWorker(t, posts, logs, &scriptedProcessor{}, now)

	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, logs.entries)
	// The flag is clear, so the next tick runs.
	assert.False(t, svc.running.Load())
}

func TestRunCycleRecoversStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := &fakePostRepo{recovered: 2}
	svc := newWorker(t, posts, &fakeCycleLogRepo{}, &scriptedProcessor{}, now)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recovered)
}
