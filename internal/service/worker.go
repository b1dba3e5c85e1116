package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
	"github.com/socialsyncara/publish-worker/internal/observability/metrics"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
)

// PostProcessor drives one claimed post to its next status.
type PostProcessor interface {
	Process(ctx context.Context, post *model.ScheduledPost) (Outcome, error)
}

// WorkerServiceOptions contains dependencies for creating a WorkerService.
type WorkerServiceOptions struct {
	Posts     core.PostRepository
	CycleLogs core.CycleLogRepository
	Processor PostProcessor

	// BatchSize is the maximum number of due posts claimed per cycle.
	BatchSize int
	// StaleAfter is how long a post may sit in processing before a cycle
	// returns it to pending.
	StaleAfter time.Duration
	// ClaimTimeout bounds the claim query.
	ClaimTimeout time.Duration

	TimeProvider data.TimeProvider
	Metrics      *statsd.Client
	Logger       *slog.Logger
}

// WorkerService runs the claim-and-publish cycle. Cycles are non-reentrant
// within a process: a tick that fires while the previous one is still
// running is skipped. Across processes, the claim query's row locking keeps
// claimants from overlapping.
type WorkerService struct {
	posts        core.PostRepository
	cycleLogs    core.CycleLogRepository
	processor    PostProcessor
	batchSize    int
	staleAfter   time.Duration
	claimTimeout time.Duration
	tp           data.TimeProvider
	metrics      *statsd.Client
	logger       *slog.Logger

	running       atomic.Bool
	claimFailures atomic.Int64
}

// NewWorkerService creates a worker service with the given options.
func NewWorkerService(opts WorkerServiceOptions) (*WorkerService, error) {
	switch {
	case opts.Posts == nil:
		return nil, fmt.Errorf("post repository is required")
	case opts.CycleLogs == nil:
		return nil, fmt.Errorf("cycle log repository is required")
	case opts.Processor == nil:
		return nil, fmt.Errorf("post processor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 15 * time.Second
	}
	return &WorkerService{
		posts:        opts.Posts,
		cycleLogs:    opts.CycleLogs,
		processor:    opts.Processor,
		batchSize:    opts.BatchSize,
		staleAfter:   opts.StaleAfter,
		claimTimeout: opts.ClaimTimeout,
		tp:           tp,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "worker"),
	}, nil
}

// CycleResult summarises one worker cycle.
type CycleResult struct {
	// Skipped is true when the previous cycle was still running.
	Skipped   bool
	Recovered int
	Processed int
	Published int
	Failed    int
	Errors    int
	Duration  time.Duration
}

// RunCycle executes one claim-and-publish cycle. Per-post failures are
// recorded on their rows and never abort the batch; the error return covers
// cycle-level infrastructure failures only.
func (s *WorkerService) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.InfoContext(ctx, "previous cycle still running, skipping tick")
		return CycleResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	started := s.tp.Now()
	result := CycleResult{}

	recovered, err := s.posts.RecoverStale(ctx, started.Add(-s.staleAfter))
	if err != nil {
		s.logger.ErrorContext(ctx, "stale recovery failed", "error", err)
	} else if recovered > 0 {
		s.logger.WarnContext(ctx, "recovered stalled posts", "count", recovered)
		result.Recovered = recovered
	}

	claimCtx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	posts, err := s.posts.ClaimDue(claimCtx, started, s.batchSize)
	cancel()
	if err != nil {
		s.logClaimFailure(ctx, err)
		return result, fmt.Errorf("claim due posts: %w", err)
	}
	s.claimFailures.Store(0)

	if len(posts) == 0 {
		return result, nil
	}

	s.logger.InfoContext(ctx, "claimed due posts", "count", len(posts))

	defer func() {
		result.Duration = s.tp.Now().Sub(started)
		s.recordCycle(ctx, started, result)
	}()

	for _, post := range posts {
		outcome, procErr := s.processor.Process(ctx, post)
		result.Processed++
		switch {
		case procErr != nil:
			result.Errors++
			s.logger.ErrorContext(ctx, "post processing failed",
				"post_id", post.ID, "outcome", outcome, "error", procErr)
		case outcome.Success():
			result.Published++
		case outcome == OutcomeFailed:
			result.Failed++
			result.Errors++
		case outcome == OutcomeRetrying:
			result.Errors++
		}
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "cycle interrupted", "processed", result.Processed)
			break
		}
	}

	return result, nil
}

// recordCycle writes the execution log row for a non-empty tick. Logging
// failures never fail the cycle.
func (s *WorkerService) recordCycle(ctx context.Context, started time.Time, result CycleResult) {
	finished := s.tp.Now()
	entry := &model.CycleLog{
		StartedAt:       started,
		FinishedAt:      finished,
		Processed:       result.Processed,
		Published:       result.Published,
		Failed:          result.Failed,
		ExecutionTimeMs: finished.Sub(started).Milliseconds(),
		ErrorsCount:     result.Errors,
	}
	if err := s.cycleLogs.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to record cycle log", "error", err)
	}

	metrics.EmitCycle(s.metrics, metrics.CycleMetric{
		Processed: result.Processed,
		Published: result.Published,
		Failed:    result.Failed,
		Errors:    result.Errors,
		Duration:  finished.Sub(started),
	})

	s.logger.InfoContext(ctx, "cycle finished",
		"processed", result.Processed,
		"published", result.Published,
		"failed", result.Failed,
		"errors", result.Errors,
		"execution_ms", entry.ExecutionTimeMs)
}

// logClaimFailure logs claim errors at full severity only occasionally once
// they become repetitive, so a database outage does not flood the log.
func (s *WorkerService) logClaimFailure(ctx context.Context, err error) {
	failures := s.claimFailures.Add(1)
	if failures == 1 || failures%10 == 0 {
		s.logger.ErrorContext(ctx, "claim query failed",
			"error", err, "consecutive_failures", failures)
		return
	}
	s.logger.DebugContext(ctx, "claim query failed",
		"error", err, "consecutive_failures", failures)
}
