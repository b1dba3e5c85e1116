// Package worker provides the adapter that runs the publish worker loop.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
	"github.com/socialsyncara/publish-worker/internal/service"
)

// Runner drives the worker cycle on a fixed interval until its context is
// cancelled.
type Runner struct {
	worker   *service.WorkerService
	interval time.Duration
	logger   *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB        *sql.DB
	Processor service.PostProcessor
	Interval  time.Duration

	BatchSize    int
	StaleAfter   time.Duration
	ClaimTimeout time.Duration

	// Optional dependency injections for testing/decoupling.
	Posts     core.PostRepository
	CycleLogs core.CycleLogRepository

	TimeProvider data.TimeProvider
	Metrics      *statsd.Client
	Logger       *slog.Logger
}

// NewRunner creates a new worker runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Processor == nil {
		return nil, errors.New("post processor is required")
	}
	if opts.Posts == nil || opts.CycleLogs == nil {
		if opts.DB == nil {
			return nil, errors.New("database connection is required")
		}
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	posts := opts.Posts
	if posts == nil {
		posts = data.NewPostRepo(opts.DB, data.PostRepoConfig{
			MaxRetries:   model.MaxRetries,
			Logger:       opts.Logger,
			TimeProvider: opts.TimeProvider,
		})
	}
	cycleLogs := opts.CycleLogs
	if cycleLogs == nil {
		cycleLogs = data.NewCycleLogRepo(opts.DB)
	}

	worker, err := service.NewWorkerService(service.WorkerServiceOptions{
		Posts:        posts,
		CycleLogs:    cycleLogs,
		Processor:    opts.Processor,
		BatchSize:    opts.BatchSize,
		StaleAfter:   opts.StaleAfter,
		ClaimTimeout: opts.ClaimTimeout,
		TimeProvider: opts.TimeProvider,
		Metrics:      opts.Metrics,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		worker:   worker,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "worker_runner"),
	}, nil
}

// Run starts the worker loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner", "interval", r.interval)

	// First cycle fires immediately; waiting a full interval on boot would
	// delay posts already overdue.
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "worker runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.worker.RunCycle(ctx); err != nil {
		// Cycle-level failures abort only this tick; the next one retries
		// from scratch.
		r.logger.DebugContext(ctx, "worker cycle aborted", "error", err)
	}
}
