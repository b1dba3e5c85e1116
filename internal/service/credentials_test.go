package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/data/cryptoutil"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

type fakeAccountRepo struct {
	account    *model.SocialAccount
	updates    []model.TokenUpdate
	revoked    []string
	authorRefs map[string]string
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id string) (*model.SocialAccount, error) {
	if f.account == nil || f.account.ID != id {
		return nil, apperrors.NotFoundf("account %s not found", id)
	}
	clone := *f.account
	return &clone, nil
}

func (f *fakeAccountRepo) UpdateTokens(_ context.Context, upd model.TokenUpdate) (*model.SocialAccount, error) {
	f.updates = append(f.updates, upd)
	if f.account.UpdatedAt.After(upd.ObservedAt) {
		clone := *f.account
		return &clone, nil
	}
	f.account.EncryptedAccessToken = &upd.EncryptedAccessToken
	if upd.EncryptedRefreshToken != nil {
		f.account.EncryptedRefreshToken = upd.EncryptedRefreshToken
	}
	f.account.AccessTokenExpiresAt = upd.ExpiresAt
	clone := *f.account
	return &clone, nil
}

func (f *fakeAccountRepo) MarkRevoked(_ context.Context, id string) error {
	f.revoked = append(f.revoked, id)
	f.account.Status = model.AccountStatusRevoked
	return nil
}

func (f *fakeAccountRepo) UpdateAuthorRef(_ context.Context, id, ref string) error {
	if f.authorRefs == nil {
		f.authorRefs = make(map[string]string)
	}
	f.authorRefs[id] = ref
	return nil
}

type recordingNotifier struct {
	causes []string
}

func (n *recordingNotifier) AccountDisconnected(_ context.Context, _ *model.SocialAccount, cause string) {
	n.causes = append(n.causes, cause)
}

func encrypt(t *testing.T, plaintext string) *string {
	t.Helper()
	ct, err := cryptoutil.NoopEncryptor{}.Encrypt([]byte(plaintext))
	require.NoError(t, err)
	return &ct
}

func activeAccount(t *testing.T, now time.Time, expiresIn time.Duration) *model.SocialAccount {
	t.Helper()
	expiry := now.Add(expiresIn)
	return &model.SocialAccount{
		ID:                    "acct-1",
		UserID:                "user-1",
		Platform:              "LINKEDIN",
		EncryptedAccessToken:  encrypt(t, "stored-access"),
		EncryptedRefreshToken: encrypt(t, "stored-refresh"),
		AccessTokenExpiresAt:  &expiry,
		Status:                model.AccountStatusActive,
		UpdatedAt:             now.Add(-time.Hour),
	}
}

func newCredentials(t *testing.T, repo core.AccountRepository, now time.Time, oauthCfg map[string]*oauth2.Config, notifier core.Notifier) *CredentialsService {
	t.Helper()
	svc, err := NewCredentialsService(CredentialsServiceOptions{
		Accounts:     repo,
		Crypto:       cryptoutil.NoopEncryptor{},
		OAuth:        oauthCfg,
		TimeProvider: data.NewFixedTimeProvider(now),
		Notifier:     notifier,
	})
	require.NoError(t, err)
	return svc
}

func tokenEndpoint(t *testing.T, handler http.HandlerFunc) (map[string]*oauth2.Config, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := map[string]*oauth2.Config{
		"LINKEDIN": {
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: srv.URL},
		},
	}
	return cfg, srv
}

func TestAccessTokenStillValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeAccountRepo{account: activeAccount(t, now, time.Hour)}
	svc := newCredentials(t, repo, now, nil, nil)

	token, err := svc.AccessToken(context.Background(), repo.account)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Empty(t, repo.updates)
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeAccountRepo{account: activeAccount(t, now, 2*time.Minute)}

	var grantType, refreshToken string
	oauthCfg, _ := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grantType = r.PostFormValue("grant_type")
		refreshToken = r.PostFormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-access","refresh_token":"fresh-refresh","token_type":"Bearer","expires_in":3600}`))
	})
	svc := newCredentials(t, repo, now, oauthCfg, nil)

	token, err := svc.AccessToken(context.Background(), repo.account)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, "refresh_token", grantType)
	assert.Equal(t, "stored-refresh", refreshToken)

	require.Len(t, repo.updates, 1)
	upd := repo.updates[0]
	require.NotNil(t, upd.EncryptedRefreshToken)
	assert.NotNil(t, upd.ExpiresAt)
}

func TestAccessTokenReusesFreshRefresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	account := activeAccount(t, now, 2*time.Minute)
	// Another claimant refreshed the row ten seconds ago.
	verified := now.Add(-10 * time.Second)
	account.LastVerifiedAt = &verified
	account.EncryptedAccessToken = encrypt(t, "their-access")
	repo := &fakeAccountRepo{account: account}

	oauthCfg, _ := tokenEndpoint(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("token endpoint should not be called inside the fresh window")
		w.WriteHeader(http.StatusInternalServerError)
	})
	svc := newCredentials(t, repo, now, oauthCfg, nil)

	token, err := svc.AccessToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "their-access", token)
	assert.Empty(t, repo.updates)
}

func TestAccessTokenGrantRejectedDisconnects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeAccountRepo{account: activeAccount(t, now, time.Minute)}
	notifier := &recordingNotifier{}

	oauthCfg, _ := tokenEndpoint(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})
	svc := newCredentials(t, repo, now, oauthCfg, notifier)

	_, err := svc.AccessToken(context.Background(), repo.account)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Equal(t, []string{"acct-1"}, repo.revoked)
	require.Len(t, notifier.causes, 1)
	assert.Contains(t, notifier.causes[0], "refresh grant")
}

func TestAccessTokenTransientRefreshFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeAccountRepo{account: activeAccount(t, now, time.Minute)}

	oauthCfg, _ := tokenEndpoint(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	svc := newCredentials(t, repo, now, oauthCfg, nil)

	_, err := svc.AccessToken(context.Background(), repo.account)
	require.Error(t, err)
	assert.False(t, apperrors.IsUnauthorized(err))
	assert.Empty(t, repo.revoked)
}

func TestAccessTokenRevokedAccount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	account := activeAccount(t, now, time.Hour)
	account.Status = model.AccountStatusRevoked
	svc := newCredentials(t, &fakeAccountRepo{account: account}, now, nil, nil)

	_, err := svc.AccessToken(context.Background(), account)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestAccessTokenUndecryptableDisconnects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	account := activeAccount(t, now, time.Hour)
	garbage := "not-a-ciphertext"
	account.EncryptedAccessToken = &garbage
	repo := &fakeAccountRepo{account: account}
	notifier := &recordingNotifier{}
	svc := newCredentials(t, repo, now, nil, notifier)

	_, err := svc.AccessToken(context.Background(), account)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Equal(t, []string{"acct-1"}, repo.revoked)
	assert.Len(t, notifier.causes, 1)
}
