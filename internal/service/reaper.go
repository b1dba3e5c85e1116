package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
)

// ReaperServiceOptions contains dependencies for creating a ReaperService.
type ReaperServiceOptions struct {
	History   core.HistoryRepository
	CycleLogs core.CycleLogRepository

	CycleLogMaxAge    time.Duration
	PostHistoryMaxAge time.Duration

	// BatchSize bounds each delete statement so retention never holds long
	// row locks.
	BatchSize int
	// BatchPause is the sleep between consecutive delete batches.
	BatchPause time.Duration

	TimeProvider data.TimeProvider
	Metrics      *statsd.Client
	Logger       *slog.Logger
}

// ReaperService deletes aged observability rows: old cycle logs and old post
// history. Scheduled posts are never deleted, whatever their status.
type ReaperService struct {
	history   core.HistoryRepository
	cycleLogs core.CycleLogRepository

	cycleLogMaxAge    time.Duration
	postHistoryMaxAge time.Duration
	batchSize         int
	batchPause        time.Duration

	tp      data.TimeProvider
	metrics *statsd.Client
	logger  *slog.Logger
}

// NewReaperService creates a reaper service with the given options.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	switch {
	case opts.History == nil:
		return nil, fmt.Errorf("history repository is required")
	case opts.CycleLogs == nil:
		return nil, fmt.Errorf("cycle log repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if opts.CycleLogMaxAge <= 0 {
		opts.CycleLogMaxAge = 30 * 24 * time.Hour
	}
	if opts.PostHistoryMaxAge <= 0 {
		opts.PostHistoryMaxAge = 90 * 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	return &ReaperService{
		history:           opts.History,
		cycleLogs:         opts.CycleLogs,
		cycleLogMaxAge:    opts.CycleLogMaxAge,
		postHistoryMaxAge: opts.PostHistoryMaxAge,
		batchSize:         opts.BatchSize,
		batchPause:        opts.BatchPause,
		tp:                tp,
		metrics:           opts.Metrics,
		logger:            logger.With("component", "reaper"),
	}, nil
}

// ReapResult summarises one retention pass.
type ReapResult struct {
	CycleLogs int64
	History   int64
}

// Total returns the number of rows deleted across all tables.
func (r ReapResult) Total() int64 {
	return r.CycleLogs + r.History
}

// RunCycle deletes aged rows from each table in bounded batches. A failure
// on one table does not stop the others; the last error is returned.
func (s *ReaperService) RunCycle(ctx context.Context) (ReapResult, error) {
	now := s.tp.Now()
	result := ReapResult{}
	var lastErr error

	deleted, err := s.drain(ctx, "worker_cycle_logs", now.Add(-s.cycleLogMaxAge), s.cycleLogs.DeleteOlderThan)
	result.CycleLogs = deleted
	if err != nil {
		lastErr = err
	}

	deleted, err = s.drain(ctx, "post_history", now.Add(-s.postHistoryMaxAge), s.history.DeleteOlderThan)
	result.History = deleted
	if err != nil {
		lastErr = err
	}

	if result.Total() > 0 {
		s.logger.InfoContext(ctx, "retention pass finished",
			"cycle_logs", result.CycleLogs,
			"post_history", result.History)
	}
	if s.metrics != nil && result.Total() > 0 {
		s.metrics.Count("reaper.deleted", result.CycleLogs, map[string]string{"table": "worker_cycle_logs"})
		s.metrics.Count("reaper.deleted", result.History, map[string]string{"table": "post_history"})
	}
	return result, lastErr
}

type deleteFunc func(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

// drain repeatedly deletes one batch until the table has no more aged rows.
func (s *ReaperService) drain(ctx context.Context, table string, cutoff time.Time, del deleteFunc) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := del(ctx, cutoff, s.batchSize)
		total += deleted
		if err != nil {
			s.logger.ErrorContext(ctx, "retention delete failed",
				"table", table, "deleted_so_far", total, "error", err)
			return total, err
		}
		if deleted < int64(s.batchSize) {
			return total, nil
		}
		if s.batchPause > 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(s.batchPause):
			}
		}
	}
}
