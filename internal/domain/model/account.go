package model

import (
	"encoding/json"
	"time"
)

// AccountStatus represents the lifecycle state of a connected social account.
type AccountStatus string

const (
	// AccountStatusActive indicates the account's credentials are usable.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusRevoked indicates refresh is irrecoverable; the user must
	// reconnect the account out of band.
	AccountStatusRevoked AccountStatus = "revoked"
)

// SocialAccount holds the encrypted OAuth credentials for one (user, platform) pair.
// The pair is unique; token fields store ciphertext produced by cryptoutil.
type SocialAccount struct {
	ID                    string          `json:"id"                                 db:"id"`
	UserID                string          `json:"user_id"                            db:"user_id"`
	Platform              string          `json:"platform"                           db:"platform"`
	PlatformAccountID     *string         `json:"platform_account_id,omitempty"      db:"platform_account_id"`
	EncryptedAccessToken  *string         `json:"-"                                  db:"encrypted_access_token"`
	EncryptedRefreshToken *string         `json:"-"                                  db:"encrypted_refresh_token"`
	AccessTokenExpiresAt  *time.Time      `json:"access_token_expires_at,omitempty"  db:"access_token_expires_at"`
	Status                AccountStatus   `json:"status"                             db:"status"`
	// AuthorRef caches the provider-side author identifier (for LinkedIn the
	// person or organization URN) resolved during the first publish.
	AuthorRef  *string `json:"author_ref,omitempty"  db:"author_ref"`
	OwnerEmail *string `json:"owner_email,omitempty" db:"owner_email"`
	Metadata              json.RawMessage `json:"metadata"                           db:"metadata"`
	LastVerifiedAt        *time.Time      `json:"last_verified_at,omitempty"         db:"last_verified_at"`
	CreatedAt             time.Time       `json:"created_at"                         db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"                         db:"updated_at"`
}

// TokenExpiresWithin reports whether the access token expires within the buffer.
// A missing expiry is treated as not expiring.
func (a *SocialAccount) TokenExpiresWithin(now time.Time, buffer time.Duration) bool {
	if a.AccessTokenExpiresAt == nil {
		return false
	}
	return a.AccessTokenExpiresAt.Sub(now) < buffer
}

// TokenUpdate carries new encrypted token material written after a refresh.
type TokenUpdate struct {
	AccountID             string
	EncryptedAccessToken  string
	EncryptedRefreshToken *string // nil keeps the stored refresh token
	ExpiresAt             *time.Time
	// ObservedAt is when the refreshing worker read the account row. If the
	// row was updated after this point another claimant already refreshed it
	// and its tokens win.
	ObservedAt time.Time
}
