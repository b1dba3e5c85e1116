// Package reaper provides the adapter that runs the retention loop.
package reaper

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/socialsyncara/publish-worker/config"
	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
	"github.com/socialsyncara/publish-worker/internal/service"
)

// Runner drives the retention passes on a fixed interval until its context
// is cancelled.
type Runner struct {
	reaper   *service.ReaperService
	interval time.Duration
	logger   *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig

	// Optional dependency injections for testing/decoupling.
	History   core.HistoryRepository
	CycleLogs core.CycleLogRepository

	TimeProvider data.TimeProvider
	Metrics      *statsd.Client
	Logger       *slog.Logger
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.History == nil || opts.CycleLogs == nil {
		if opts.DB == nil {
			return nil, errors.New("database connection is required")
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.Sanitize()

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	history := opts.History
	if history == nil {
		history = data.NewHistoryRepo(opts.DB, tp)
	}
	cycleLogs := opts.CycleLogs
	if cycleLogs == nil {
		cycleLogs = data.NewCycleLogRepo(opts.DB)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		History:           history,
		CycleLogs:         cycleLogs,
		CycleLogMaxAge:    opts.Config.CycleLogMaxAge,
		PostHistoryMaxAge: opts.Config.PostHistoryMaxAge,
		BatchSize:         opts.Config.BatchSize,
		TimeProvider:      tp,
		Metrics:           opts.Metrics,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		reaper:   reaper,
		interval: opts.Config.Interval,
		logger:   opts.Logger.With("component", "reaper_runner"),
	}, nil
}

// Run starts the retention loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner", "interval", r.interval)

	// Jitter the first pass so instances started together do not contend
	// for the same delete batches.
	r.waitWithJitter(ctx)
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper runner stopping", "reason", ctx.Err())
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
	if _, err := r.reaper.RunCycle(ctx); err != nil {
		r.logger.ErrorContext(ctx, "retention pass failed", "error", err)
	}
}

// waitWithJitter sleeps a random fraction of the interval, capped at 10%.
func (r *Runner) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
