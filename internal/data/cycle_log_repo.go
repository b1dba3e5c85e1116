package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// CycleLogRepo provides database operations for worker cycle logs.
type CycleLogRepo struct {
	DB *sql.DB
}

// NewCycleLogRepo creates a new CycleLogRepo instance.
func NewCycleLogRepo(db *sql.DB) *CycleLogRepo {
	return &CycleLogRepo{DB: db}
}

// Record appends the outcome of one worker cycle.
func (r *CycleLogRepo) Record(ctx context.Context, entry *model.CycleLog) error {
	if entry == nil {
		return apperrors.Validation("cycle log entry is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO worker_cycle_logs
			(id, started_at, finished_at, processed, published, failed, execution_time_ms, errors_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID,
		entry.StartedAt,
		entry.FinishedAt,
		entry.Processed,
		entry.Published,
		entry.Failed,
		entry.ExecutionTimeMs,
		entry.ErrorsCount,
	)
	if err != nil {
		return fmt.Errorf("record cycle log: %w", apperrors.MapDBError(err))
	}
	return nil
}

// DeleteOlderThan removes cycle logs older than cutoff, at most batchSize
// rows per call.
func (r *CycleLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM worker_cycle_logs
		WHERE id IN (
			SELECT id FROM worker_cycle_logs
			WHERE finished_at <= $1
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete cycle logs: %w", apperrors.MapDBError(err))
	}
	return res.RowsAffected()
}
