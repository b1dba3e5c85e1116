package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// PostRepoConfig holds configuration options for the post repository.
type PostRepoConfig struct {
	// MaxRetries is the attempt ceiling after which failing posts become terminal.
	MaxRetries   int
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// PostRepo provides database operations for scheduled posts.
type PostRepo struct {
	DB           *sql.DB
	cfg          PostRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewPostRepo creates a new PostRepo instance with the given database connection and configuration.
func NewPostRepo(db *sql.DB, cfg PostRepoConfig) *PostRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = model.MaxRetries
	}

	return &PostRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const postColumns = `
  id,
  user_id,
  account_id,
  platform,
  post_type,
  title,
  content_text,
  media_urls,
  thumbnail_url,
  target_type,
  group_ids,
  scheduled_at,
  status,
  retry_count,
  last_error,
  external_post_ids,
  content_id,
  timezone,
  published_at,
  created_at,
  updated_at
`

// claimDueSQL atomically reserves a batch of due posts. SKIP LOCKED keeps
// concurrent workers from claiming the same rows.
const claimDueSQL = `
  WITH due AS (
    SELECT id FROM scheduled_posts
    WHERE status = 'pending' AND scheduled_at <= $1
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
  )
  UPDATE scheduled_posts p
  SET status = 'processing', updated_at = $3
  FROM due
  WHERE p.id = due.id
  RETURNING p.id, p.user_id, p.account_id, p.platform, p.post_type, p.title, p.content_text, p.media_urls, p.thumbnail_url, p.target_type, p.group_ids, p.scheduled_at, p.status, p.retry_count, p.last_error, p.external_post_ids, p.content_id, p.timezone, p.published_at, p.created_at, p.updated_at`

// ClaimDue reserves up to limit due posts for this worker, oldest first.
func (r *PostRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledPost, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.DB.QueryContext(ctx, claimDueSQL, now, limit, r.timeProvider.Now())
	if err != nil {
		return nil, fmt.Errorf("claim due posts: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var posts []*model.ScheduledPost
	for rows.Next() {
		post, scanErr := scanPost(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan claimed post: %w", scanErr)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed posts: %w", apperrors.MapDBError(err))
	}
	return posts, nil
}

// RecoverStale returns posts stuck in processing since before cutoff to pending.
// A claim older than the stale window means its worker died mid-cycle.
func (r *PostRepo) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	cause := fmt.Sprintf("Recovered from stalled processing (claimed before %s)", cutoff.UTC().Format(time.RFC3339))

	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'pending', last_error = $1, updated_at = $2
		WHERE status = 'processing' AND updated_at <= $3
	`, cause, r.timeProvider.Now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale posts: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale rows affected: %w", err)
	}
	return int(affected), nil
}

// GetByID retrieves a post by its ID.
func (r *PostRepo) GetByID(ctx context.Context, id string) (*model.ScheduledPost, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return post, nil
}

// Complete moves a processing post to published or partial and records the
// identifiers the platform returned.
func (r *PostRepo) Complete(ctx context.Context, params core.CompletePostParams) error {
	if params.Status != model.PostStatusPublished && params.Status != model.PostStatusPartial {
		return apperrors.Validationf("complete requires a successful terminal status, got %q", params.Status)
	}

	externalIDs, err := marshalStringList(params.ExternalIDs)
	if err != nil {
		return fmt.Errorf("marshal external ids: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = $2,
		    external_post_ids = $3,
		    last_error = $4,
		    published_at = $5,
		    updated_at = $6
		WHERE id = $1 AND status = 'processing'
	`, params.ID, params.Status, externalIDs, nullString(params.ErrMsg), params.PublishedAt, r.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("complete post: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("post %s is not processing", params.ID)
	}
	return nil
}

// Fail records a failed attempt. The retry ceiling is enforced in SQL so the
// count and the resulting status move together.
func (r *PostRepo) Fail(ctx context.Context, id, errMsg string) (model.PostStatus, int, error) {
	errMsg = model.TruncateError(errMsg)

	var (
		status     model.PostStatus
		retryCount int
	)
	err := r.DB.QueryRowContext(ctx, `
		UPDATE scheduled_posts
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    last_error = $3,
		    updated_at = $4
		WHERE id = $1 AND status = 'processing'
		RETURNING status, retry_count
	`, id, r.cfg.MaxRetries, errMsg, r.timeProvider.Now()).Scan(&status, &retryCount)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", 0, apperrors.NotFoundf("post %s is not processing", id)
		}
		return "", 0, fmt.Errorf("fail post: %w", mapped)
	}
	return status, retryCount, nil
}

// MarkFailed moves a processing post straight to failed, bypassing the retry
// ceiling. Used for permanent failures where another attempt cannot succeed.
func (r *PostRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'failed', last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, model.TruncateError(errMsg), r.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("mark post failed: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("post %s is not processing", id)
	}
	return nil
}

// Reschedule returns a processing post to pending with a future due time
// without consuming a retry.
func (r *PostRepo) Reschedule(ctx context.Context, params core.ReschedulePostParams) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'pending', scheduled_at = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`, params.ID, params.RunAt, model.TruncateError(params.Cause), r.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("reschedule post: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reschedule rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("post %s is not processing", params.ID)
	}
	return nil
}

// Cancel moves a pending post to cancelled. Posts already claimed or terminal
// are left alone.
func (r *PostRepo) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, r.timeProvider.Now())
	if err != nil {
		return false, fmt.Errorf("cancel post: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return affected > 0, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanPost.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.ScheduledPost, error) {
	var (
		post            model.ScheduledPost
		title           sql.NullString
		mediaURLs       []byte
		thumbnailURL    sql.NullString
		groupIDs        []byte
		lastError       sql.NullString
		externalPostIDs []byte
		contentID       sql.NullString
		publishedAt     sql.NullTime
	)

	err := row.Scan(
		&post.ID,
		&post.UserID,
		&post.AccountID,
		&post.Platform,
		&post.PostType,
		&title,
		&post.ContentText,
		&mediaURLs,
		&thumbnailURL,
		&post.TargetType,
		&groupIDs,
		&post.ScheduledAt,
		&post.Status,
		&post.RetryCount,
		&lastError,
		&externalPostIDs,
		&contentID,
		&post.Timezone,
		&publishedAt,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	post.Title = stringPtr(title)
	post.ThumbnailURL = stringPtr(thumbnailURL)
	post.LastError = stringPtr(lastError)
	post.ContentID = stringPtr(contentID)
	if publishedAt.Valid {
		t := publishedAt.Time
		post.PublishedAt = &t
	}

	if post.MediaURLs, err = unmarshalStringList(mediaURLs); err != nil {
		return nil, fmt.Errorf("unmarshal media_urls: %w", err)
	}
	if post.GroupIDs, err = unmarshalStringList(groupIDs); err != nil {
		return nil, fmt.Errorf("unmarshal group_ids: %w", err)
	}
	if post.ExternalPostIDs, err = unmarshalStringList(externalPostIDs); err != nil {
		return nil, fmt.Errorf("unmarshal external_post_ids: %w", err)
	}

	return &post, nil
}

func marshalStringList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func unmarshalStringList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
