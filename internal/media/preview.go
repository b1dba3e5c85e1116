// Package media resolves preview imagery for article posts: Open Graph
// images scraped from the shared page and thumbnails for known video hosts.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ScraperConfig controls page fetching behaviour.
type ScraperConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	Client       *http.Client
}

// Scraper fetches pages and extracts their Open Graph preview image.
type Scraper struct {
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
}

// NewScraper creates a Scraper with the given configuration.
func NewScraper(cfg ScraperConfig) *Scraper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "socialsync-preview/1.0"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Scraper{
		client:       client,
		maxBodyBytes: maxBody,
		userAgent:    userAgent,
	}
}

// PreviewImage fetches pageURL and returns its og:image URL, falling back to
// twitter:image. Returns empty string when the page has neither.
func (s *Scraper) PreviewImage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create preview request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch preview page: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("preview page returned status %d", resp.StatusCode)
	}

	return extractPreviewImage(io.LimitReader(resp.Body, s.maxBodyBytes)), nil
}

// extractPreviewImage tokenizes HTML looking for preview meta tags. Scanning
// stops at the end of head; og:image wins over twitter:image.
func extractPreviewImage(r io.Reader) string {
	var twitterImage string

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return twitterImage
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "head" {
				return twitterImage
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "body":
				// Some pages omit </head>; meta tags never follow body.
				return twitterImage
			case "meta":
				if !hasAttr {
					continue
				}
				var prop, content string
				for {
					key, val, more := z.TagAttr()
					switch string(key) {
					case "property", "name":
						prop = strings.ToLower(string(val))
					case "content":
						content = strings.TrimSpace(string(val))
					}
					if !more {
						break
					}
				}
				switch prop {
				case "og:image", "og:image:url", "og:image:secure_url":
					if content != "" {
						return content
					}
				case "twitter:image", "twitter:image:src":
					if twitterImage == "" {
						twitterImage = content
					}
				}
			}
		}
	}
}

// YouTubeVideoID extracts the video identifier from the common YouTube URL
// shapes (watch, youtu.be, shorts, embed). Returns false for anything else.
func YouTubeVideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		return id, id != ""
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); id != "" {
			return id, true
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id := strings.SplitN(rest, "/", 2)[0]
				return id, id != ""
			}
		}
	}
	return "", false
}

// VideoThumbnail returns the best available thumbnail for a YouTube URL.
// It prefers the maxres image and falls back to hqdefault, which exists for
// every video. Returns empty string for non-YouTube URLs.
func (s *Scraper) VideoThumbnail(ctx context.Context, videoURL string) string {
	id, ok := YouTubeVideoID(videoURL)
	if !ok {
		return ""
	}

	maxres := fmt.Sprintf("https://i.ytimg.com/vi/%s/maxresdefault.jpg", id)
	if s.urlExists(ctx, maxres) {
		return maxres
	}
	return fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", id)
}

func (s *Scraper) urlExists(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
