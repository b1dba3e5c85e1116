package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

// AccountRepo provides database operations for connected social accounts.
type AccountRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// AccountRepoConfig holds configuration options for the account repository.
type AccountRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewAccountRepo creates a new AccountRepo instance.
func NewAccountRepo(db *sql.DB, cfg AccountRepoConfig) *AccountRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &AccountRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const accountColumns = `
  id,
  user_id,
  platform,
  platform_account_id,
  access_token,
  refresh_token,
  access_token_expires_at,
  status,
  author_ref,
  owner_email,
  metadata,
  last_verified_at,
  created_at,
  updated_at
`

// GetByID retrieves a social account by its ID.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*model.SocialAccount, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM social_accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return account, nil
}

// UpdateTokens stores refreshed token material, unless another claimant
// already refreshed the row after upd.ObservedAt. In that case the stored
// tokens win and we return the row as-is.
func (r *AccountRepo) UpdateTokens(ctx context.Context, upd model.TokenUpdate) (*model.SocialAccount, error) {
	now := r.timeProvider.Now()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE social_accounts
		SET access_token = $2,
		    refresh_token = COALESCE($3, refresh_token),
		    access_token_expires_at = $4,
		    last_verified_at = $5,
		    updated_at = $5
		WHERE id = $1 AND status = 'active' AND updated_at <= $6
	`, upd.AccountID, upd.EncryptedAccessToken, nullString(upd.EncryptedRefreshToken), upd.ExpiresAt, now, upd.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("update tokens: %w", apperrors.MapDBError(err))
	}

	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "token update skipped; row changed since read",
			"account_id", upd.AccountID)
	}

	// Re-read so callers always see the winning tokens.
	return r.GetByID(ctx, upd.AccountID)
}

// MarkRevoked flips the account to revoked after the provider rejected its
// refresh grant. Token material is cleared; it can never be used again.
func (r *AccountRepo) MarkRevoked(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE social_accounts
		SET status = 'revoked',
		    access_token = NULL,
		    refresh_token = NULL,
		    access_token_expires_at = NULL,
		    updated_at = $2
		WHERE id = $1
	`, id, r.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("mark account revoked: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark revoked rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("account %s not found", id)
	}
	return nil
}

// UpdateAuthorRef caches the provider-side author identifier so later posts
// skip the identity lookup.
func (r *AccountRepo) UpdateAuthorRef(ctx context.Context, id, authorRef string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE social_accounts
		SET author_ref = $2, updated_at = $3
		WHERE id = $1
	`, id, authorRef, r.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("update author ref: %w", apperrors.MapDBError(err))
	}
	return nil
}

func scanAccount(row rowScanner) (*model.SocialAccount, error) {
	var (
		account           model.SocialAccount
		platformAccountID sql.NullString
		accessToken       sql.NullString
		refreshToken      sql.NullString
		expiresAt         sql.NullTime
		authorRef         sql.NullString
		ownerEmail        sql.NullString
		metadata          []byte
		lastVerifiedAt    sql.NullTime
	)

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Platform,
		&platformAccountID,
		&accessToken,
		&refreshToken,
		&expiresAt,
		&account.Status,
		&authorRef,
		&ownerEmail,
		&metadata,
		&lastVerifiedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.PlatformAccountID = stringPtr(platformAccountID)
	account.EncryptedAccessToken = stringPtr(accessToken)
	account.EncryptedRefreshToken = stringPtr(refreshToken)
	account.AuthorRef = stringPtr(authorRef)
	account.OwnerEmail = stringPtr(ownerEmail)
	account.Metadata = metadata
	if expiresAt.Valid {
		t := expiresAt.Time
		account.AccessTokenExpiresAt = &t
	}
	if lastVerifiedAt.Valid {
		t := lastVerifiedAt.Time
		account.LastVerifiedAt = &t
	}

	return &account, nil
}
