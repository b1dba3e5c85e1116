package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/data/cryptoutil"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
	"github.com/socialsyncara/publish-worker/internal/observability/metrics"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
)

// CredentialsServiceOptions contains dependencies for creating a CredentialsService.
type CredentialsServiceOptions struct {
	Accounts core.AccountRepository
	Crypto   cryptoutil.Encryptor

	// OAuth maps platform names to their refresh-grant configuration.
	// Platforms without an entry cannot be refreshed; their tokens are used
	// as stored until they expire.
	OAuth map[string]*oauth2.Config

	// ExpiryBuffer is how close to expiry a token may be before it is
	// refreshed ahead of use.
	ExpiryBuffer time.Duration

	// FreshWindow is the window after a refresh during which a concurrent
	// claimant reuses the stored token instead of refreshing again. This is
	// a time heuristic, not a lock: two refreshes more than FreshWindow
	// apart can still race, and the row-conditioned token update resolves
	// the loser.
	FreshWindow time.Duration

	HTTPTimeout  time.Duration
	TimeProvider data.TimeProvider
	Notifier     core.Notifier
	Metrics      *statsd.Client
	Logger       *slog.Logger
}

// CredentialsService hands the worker usable access tokens, refreshing them
// ahead of expiry and disconnecting accounts whose refresh grant the
// provider rejects.
type CredentialsService struct {
	accounts     core.AccountRepository
	crypto       cryptoutil.Encryptor
	oauth        map[string]*oauth2.Config
	expiryBuffer time.Duration
	freshWindow  time.Duration
	httpTimeout  time.Duration
	timeProvider data.TimeProvider
	notifier     core.Notifier
	metrics      *statsd.Client
	logger       *slog.Logger
}

// NewCredentialsService creates a credentials service with the given options.
func NewCredentialsService(opts CredentialsServiceOptions) (*CredentialsService, error) {
	if opts.Accounts == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if opts.Crypto == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = 5 * time.Minute
	}
	if opts.FreshWindow <= 0 {
		opts.FreshWindow = 30 * time.Second
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	return &CredentialsService{
		accounts:     opts.Accounts,
		crypto:       opts.Crypto,
		oauth:        opts.OAuth,
		expiryBuffer: opts.ExpiryBuffer,
		freshWindow:  opts.FreshWindow,
		httpTimeout:  opts.HTTPTimeout,
		timeProvider: tp,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "credentials"),
	}, nil
}

// AccessToken returns a usable plaintext access token for the account,
// refreshing it first when it expires within the buffer. Irrecoverable
// credential failures revoke the account and return an unauthorized error.
func (s *CredentialsService) AccessToken(ctx context.Context, account *model.SocialAccount) (string, error) {
	if account == nil {
		return "", apperrors.Validationf("account is required")
	}
	if account.Status != model.AccountStatusActive {
		return "", apperrors.Unauthorizedf("account %s is %s", account.ID, account.Status)
	}
	if account.EncryptedAccessToken == nil || *account.EncryptedAccessToken == "" {
		return "", s.disconnect(ctx, account, "account has no stored access token")
	}

	now := s.timeProvider.Now()
	if !account.TokenExpiresWithin(now, s.expiryBuffer) {
		return s.decryptToken(ctx, account, *account.EncryptedAccessToken)
	}

	// The token is about to expire. Another claimant may be refreshing the
	// same row right now; re-read and reuse its work when the row was
	// verified within the fresh window.
	latest, err := s.accounts.GetByID(ctx, account.ID)
	if err != nil {
		return "", fmt.Errorf("re-read account %s: %w", account.ID, err)
	}
	if latest.Status != model.AccountStatusActive {
		return "", apperrors.Unauthorizedf("account %s is %s", latest.ID, latest.Status)
	}
	if latest.LastVerifiedAt != nil && now.Sub(*latest.LastVerifiedAt) < s.freshWindow &&
		latest.EncryptedAccessToken != nil && *latest.EncryptedAccessToken != "" {
		s.logger.DebugContext(ctx, "reusing freshly refreshed token",
			"account_id", latest.ID, "verified_at", *latest.LastVerifiedAt)
		return s.decryptToken(ctx, latest, *latest.EncryptedAccessToken)
	}

	return s.refresh(ctx, latest, now)
}

func (s *CredentialsService) refresh(ctx context.Context, account *model.SocialAccount, now time.Time) (string, error) {
	conf, ok := s.oauth[strings.ToUpper(account.Platform)]
	if !ok {
		// No refresh configuration: the stored token is all we have.
		s.logger.WarnContext(ctx, "no oauth config for platform, using stored token",
			"platform", account.Platform, "account_id", account.ID)
		return s.decryptToken(ctx, account, *account.EncryptedAccessToken)
	}

	if account.EncryptedRefreshToken == nil || *account.EncryptedRefreshToken == "" {
		return "", s.disconnect(ctx, account, "access token expired and no refresh token is stored")
	}
	refreshToken, err := s.crypto.Decrypt(*account.EncryptedRefreshToken)
	if err != nil {
		return "", s.disconnect(ctx, account, "stored refresh token could not be decrypted")
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: s.httpTimeout})
	token, err := conf.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	if err != nil {
		if isGrantRejected(err) {
			metrics.EmitTokenRefresh(s.metrics, account.Platform, metrics.ResultError, err)
			return "", s.disconnect(ctx, account, "provider rejected the refresh grant: "+err.Error())
		}
		metrics.EmitTokenRefresh(s.metrics, account.Platform, metrics.ResultError, err)
		return "", fmt.Errorf("refresh token for account %s: %w", account.ID, err)
	}

	encAccess, err := s.crypto.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return "", fmt.Errorf("encrypt refreshed access token: %w", err)
	}
	upd := model.TokenUpdate{
		AccountID:            account.ID,
		EncryptedAccessToken: encAccess,
		ObservedAt:           account.UpdatedAt,
	}
	if token.RefreshToken != "" && token.RefreshToken != string(refreshToken) {
		encRefresh, err := s.crypto.Encrypt([]byte(token.RefreshToken))
		if err != nil {
			return "", fmt.Errorf("encrypt rotated refresh token: %w", err)
		}
		upd.EncryptedRefreshToken = &encRefresh
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		upd.ExpiresAt = &expiry
	}

	stored, err := s.accounts.UpdateTokens(ctx, upd)
	if err != nil {
		return "", fmt.Errorf("store refreshed tokens: %w", err)
	}
	metrics.EmitTokenRefresh(s.metrics, account.Platform, metrics.ResultSuccess, nil)
	s.logger.InfoContext(ctx, "access token refreshed",
		"account_id", account.ID, "platform", account.Platform,
		"expires_at", token.Expiry)

	if stored.EncryptedAccessToken == nil || *stored.EncryptedAccessToken == "" {
		return "", apperrors.Unauthorizedf("account %s lost its tokens during refresh", account.ID)
	}
	return s.decryptToken(ctx, stored, *stored.EncryptedAccessToken)
}

// decryptToken decrypts a stored access token, disconnecting the account on
// undecryptable material.
func (s *CredentialsService) decryptToken(ctx context.Context, account *model.SocialAccount, ciphertext string) (string, error) {
	plaintext, err := s.crypto.Decrypt(ciphertext)
	if err != nil {
		return "", s.disconnect(ctx, account, "stored access token could not be decrypted")
	}
	return string(plaintext), nil
}

// disconnect revokes the account, notifies its owner, and returns the
// unauthorized error the publish pipeline treats as permanent.
func (s *CredentialsService) disconnect(ctx context.Context, account *model.SocialAccount, cause string) error {
	s.logger.WarnContext(ctx, "disconnecting account",
		"account_id", account.ID, "platform", account.Platform, "cause", cause)

	if err := s.accounts.MarkRevoked(ctx, account.ID); err != nil && !apperrors.IsNotFound(err) {
		s.logger.ErrorContext(ctx, "failed to mark account revoked",
			"account_id", account.ID, "error", err)
	}
	if s.notifier != nil {
		s.notifier.AccountDisconnected(ctx, account, cause)
	}
	return apperrors.Unauthorizedf("account %s disconnected: %s", account.ID, cause)
}

// isGrantRejected reports whether a token endpoint error means the refresh
// grant itself is dead, as opposed to a transient transport or server
// failure.
func isGrantRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	if retrieveErr.Response != nil {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
