package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data/pgxutil"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// HistoryRepo provides database operations for the append-only post history.
// History rows are the rate limiter's source of truth.
type HistoryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewHistoryRepo creates a new HistoryRepo instance.
func NewHistoryRepo(db *sql.DB, tp TimeProvider) *HistoryRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &HistoryRepo{DB: db, timeProvider: tp}
}

// Record appends the given publishes to the history in one transaction. A
// group fan-out writes several rows at once; landing them together keeps the
// rate limiter's counts consistent with what actually went out.
func (r *HistoryRepo) Record(ctx context.Context, entries []*model.PostHistory) error {
	if len(entries) == 0 {
		return nil
	}

	err := pgxutil.WithSQLTx(ctx, r.DB, nil, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if entry == nil {
				return apperrors.Validation("history entry is required")
			}
			if entry.ID == "" {
				entry.ID = uuid.NewString()
			}
			if entry.PostedAt.IsZero() {
				entry.PostedAt = r.timeProvider.Now()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO post_history (id, user_id, platform, post_id, external_id, posted_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, entry.ID, entry.UserID, entry.Platform, entry.PostID, entry.ExternalID, entry.PostedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record post history: %w", apperrors.MapDBError(err))
	}
	return nil
}

// CountSince returns how many posts the user published on the platform since
// the given instant.
func (r *HistoryRepo) CountSince(ctx context.Context, params core.HistoryCountParams) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM post_history
		WHERE user_id = $1 AND platform = $2 AND posted_at >= $3
	`, params.UserID, params.Platform, params.Since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count post history: %w", apperrors.MapDBError(err))
	}
	return count, nil
}

// LastPostedAt returns when the user last published on the platform, or nil
// if they never have.
func (r *HistoryRepo) LastPostedAt(ctx context.Context, userID, platform string) (*time.Time, error) {
	var last sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
		SELECT MAX(posted_at) FROM post_history
		WHERE user_id = $1 AND platform = $2
	`, userID, platform).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last posted at: %w", apperrors.MapDBError(err))
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// DeleteOlderThan removes history rows older than cutoff, at most batchSize
// rows per call.
func (r *HistoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM post_history
		WHERE id IN (
			SELECT id FROM post_history
			WHERE posted_at <= $1
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete post history: %w", apperrors.MapDBError(err))
	}
	return res.RowsAffected()
}
