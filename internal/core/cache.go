// Package core provides the business logic and service layer for the publish worker.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// PreviewFetcher resolves a link preview image URL for an article URL.
// Implementations fetch the page and read its Open Graph tags.
type PreviewFetcher interface {
	PreviewImage(ctx context.Context, pageURL string) (string, error)
}

// PreviewCacheService caches link preview lookups so repeated shares of the
// same article do not refetch the page.
type PreviewCacheService struct {
	cache   CacheRepository
	fetcher PreviewFetcher
	ttl     time.Duration
}

// PreviewCacheServiceOptions bundles dependencies for NewPreviewCacheService.
type PreviewCacheServiceOptions struct {
	Cache   CacheRepository
	Fetcher PreviewFetcher
	TTL     time.Duration
}

// NewPreviewCacheService creates a new PreviewCacheService.
func NewPreviewCacheService(opts PreviewCacheServiceOptions) *PreviewCacheService {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &PreviewCacheService{
		cache:   opts.Cache,
		fetcher: opts.Fetcher,
		ttl:     ttl,
	}
}

// negativeMarker is cached for pages with no usable preview image so the
// worker does not refetch them every cycle.
const negativeMarker = "\x00none"

// PreviewImage returns the preview image URL for pageURL, consulting the
// cache first. Fetch failures are returned but not cached.
func (s *PreviewCacheService) PreviewImage(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", nil
	}

	key := previewKey(pageURL)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err == nil && cached != nil {
			if string(cached) == negativeMarker {
				return "", nil
			}
			return string(cached), nil
		}
		// Cache misses and cache errors both fall through to a live fetch.
	}

	imageURL, err := s.fetcher.PreviewImage(ctx, pageURL)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		stored := imageURL
		if stored == "" {
			stored = negativeMarker
		}
		// Best effort; a failed cache write only costs a refetch later.
		_ = s.cache.Set(ctx, key, []byte(stored), s.ttl)
	}
	return imageURL, nil
}

func previewKey(pageURL string) string {
	return "preview:image:" + pageURL
}
