// Package model defines the core data types used throughout the publish worker.
package model

import (
	"fmt"
	"strings"
	"time"
)

// PostStatus represents the current status of a scheduled post.
type PostStatus string

// TargetType describes where a post should be published.
type TargetType string

// PostType describes the content shape of a post.
type PostType string

const (
	// PostStatusPending indicates a post is waiting to be claimed.
	PostStatusPending PostStatus = "pending"
	// PostStatusProcessing indicates a post has been claimed by a worker.
	PostStatusProcessing PostStatus = "processing"
	// PostStatusPublished indicates every target accepted the post.
	PostStatusPublished PostStatus = "published"
	// PostStatusPartial indicates some, but not all, targets accepted the post.
	PostStatusPartial PostStatus = "partial"
	// PostStatusFailed indicates the post is terminally failed.
	PostStatusFailed PostStatus = "failed"
	// PostStatusCancelled indicates the post was cancelled before being claimed.
	PostStatusCancelled PostStatus = "cancelled"

	// TargetFeed publishes to the account's main feed.
	TargetFeed TargetType = "FEED"
	// TargetGroup publishes to one or more groups.
	TargetGroup TargetType = "GROUP"

	// PostTypeText is a plain text post.
	PostTypeText PostType = "TEXT"
	// PostTypeArticle is a link share with a preview card.
	PostTypeArticle PostType = "ARTICLE"
	// PostTypeImage is a post with uploaded image media.
	PostTypeImage PostType = "IMAGE"
	// PostTypeVideo is a shared video link.
	PostTypeVideo PostType = "VIDEO"
)

// Valid returns true if the PostStatus is one of the known states.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusPending, PostStatusProcessing, PostStatusPublished,
		PostStatusPartial, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transitions happen from this status.
func (s PostStatus) Terminal() bool {
	switch s {
	case PostStatusPublished, PostStatusPartial, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// MaxRetries is the retry ceiling for a scheduled post. A post whose retry count
// reaches this value on failure becomes terminally failed.
const MaxRetries = 3

// MaxErrorLength bounds the persisted last_error column.
const MaxErrorLength = 500

// ScheduledPost is a unit of publishing work keyed by its due time.
type ScheduledPost struct {
	ID              string     `json:"id"                          db:"id"`
	UserID          string     `json:"user_id"                     db:"user_id"`
	AccountID       string     `json:"account_id"                  db:"account_id"`
	Platform        string     `json:"platform"                    db:"platform"`
	PostType        PostType   `json:"post_type"                   db:"post_type"`
	Title           *string    `json:"title,omitempty"             db:"title"`
	ContentText     string     `json:"content_text"                db:"content_text"`
	MediaURLs       []string   `json:"media_urls"                  db:"media_urls"`
	ThumbnailURL    *string    `json:"thumbnail_url,omitempty"     db:"thumbnail_url"`
	TargetType      TargetType `json:"target_type"                 db:"target_type"`
	GroupIDs        []string   `json:"group_ids"                   db:"group_ids"`
	ScheduledAt     time.Time  `json:"scheduled_at"                db:"scheduled_at"`
	Status          PostStatus `json:"status"                      db:"status"`
	RetryCount      int        `json:"retry_count"                 db:"retry_count"`
	LastError       *string    `json:"last_error,omitempty"        db:"last_error"`
	ExternalPostIDs []string   `json:"external_post_ids"           db:"external_post_ids"`
	ContentID       *string    `json:"content_id,omitempty"        db:"content_id"`
	Timezone        string     `json:"timezone"                    db:"timezone"`
	PublishedAt     *time.Time `json:"published_at,omitempty"      db:"published_at"`
	CreatedAt       time.Time  `json:"created_at"                  db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"                  db:"updated_at"`
}

// HasMedia reports whether the post carries any media reference.
func (p *ScheduledPost) HasMedia() bool {
	return len(p.MediaURLs) > 0 || (p.ThumbnailURL != nil && *p.ThumbnailURL != "")
}

// Targets returns the list of publish destinations for this post. A feed post has a
// single empty-string target; a group post has one target per group id.
func (p *ScheduledPost) Targets() []string {
	if p.TargetType == TargetGroup && len(p.GroupIDs) > 0 {
		return p.GroupIDs
	}
	return []string{""}
}

// PublishStatus is the tri-state outcome of a publish attempt.
type PublishStatus string

const (
	// PublishStatusPublished means every target succeeded.
	PublishStatusPublished PublishStatus = "published"
	// PublishStatusPartial means at least one target succeeded and at least one failed.
	PublishStatusPartial PublishStatus = "partial"
	// PublishStatusFailed means no target succeeded.
	PublishStatusFailed PublishStatus = "failed"
)

// TargetResult records the outcome of publishing to a single destination.
type TargetResult struct {
	Target     string `json:"target"`
	ExternalID string `json:"external_id,omitempty"`
	Err        error  `json:"-"`
}

// PublishResult aggregates per-target outcomes for one post.
type PublishResult struct {
	Status      PublishStatus
	ExternalIDs []string
	Targets     []TargetResult
	Errors      []string
	// ResolvedAuthorRef is set when the publisher had to look up the author
	// identity itself, so callers can cache it on the account row.
	ResolvedAuthorRef string
}

// Resolve derives the aggregate status from per-target results.
func (r *PublishResult) Resolve() {
	succeeded := 0
	r.ExternalIDs = r.ExternalIDs[:0]
	r.Errors = r.Errors[:0]
	for _, t := range r.Targets {
		if t.Err == nil {
			succeeded++
			if t.ExternalID != "" {
				r.ExternalIDs = append(r.ExternalIDs, t.ExternalID)
			}
			continue
		}
		label := "feed"
		if t.Target != "" {
			label = "group " + t.Target
		}
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", label, t.Err))
	}

	switch {
	case succeeded == len(r.Targets) && succeeded > 0:
		r.Status = PublishStatusPublished
	case succeeded > 0:
		r.Status = PublishStatusPartial
	default:
		r.Status = PublishStatusFailed
	}
}

// ErrorSummary joins the per-target errors into a single bounded message.
func (r *PublishResult) ErrorSummary() string {
	return TruncateError(strings.Join(r.Errors, " | "))
}

// TruncateError bounds an error message to MaxErrorLength runes for persistence.
func TruncateError(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorLength {
		return msg
	}
	return string(runes[:MaxErrorLength])
}

// PublishRequest is the normalized input handed to a platform publisher.
type PublishRequest struct {
	Post        *ScheduledPost
	AccessToken string
	AuthorRef   string
	// PreviewImageURL is the resolved preview image, if any. Empty means the
	// publisher should fall back to a plain link post.
	PreviewImageURL string
}
