package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPreviewImage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "og:image",
			html: `<html><head><meta property="og:image" content="https://cdn.example.com/a.png"></head><body></body></html>`,
			want: "https://cdn.example.com/a.png",
		},
		{
			name: "og:image wins over twitter:image",
			html: `<head><meta name="twitter:image" content="https://cdn.example.com/tw.png"><meta property="og:image" content="https://cdn.example.com/og.png"></head>`,
			want: "https://cdn.example.com/og.png",
		},
		{
			name: "twitter:image fallback",
			html: `<head><meta name="twitter:image" content="https://cdn.example.com/tw.png"></head>`,
			want: "https://cdn.example.com/tw.png",
		},
		{
			name: "secure url variant",
			html: `<head><meta property="og:image:secure_url" content="https://cdn.example.com/s.png"/></head>`,
			want: "https://cdn.example.com/s.png",
		},
		{
			name: "stops scanning at body",
			html: `<html><body><meta property="og:image" content="https://cdn.example.com/late.png"></body></html>`,
			want: "",
		},
		{
			name: "no preview tags",
			html: `<head><title>plain</title></head><body>text</body>`,
			want: "",
		},
		{
			name: "empty content ignored",
			html: `<head><meta property="og:image" content=""></head>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractPreviewImage(strings.NewReader(tt.html))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScraperPreviewImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "socialsync-preview/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<head><meta property="og:image" content="https://cdn.example.com/og.png"></head>`))
	}))
	defer srv.Close()

	s := NewScraper(ScraperConfig{})
	got, err := s.PreviewImage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/og.png", got)
}

func TestScraperPreviewImageNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewScraper(ScraperConfig{})
	_, err := s.PreviewImage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestScraperRespectsBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Push the meta tag past the read cap.
		_, _ = w.Write([]byte("<head>" + strings.Repeat("<!-- padding -->", 1024)))
		_, _ = w.Write([]byte(`<meta property="og:image" content="https://cdn.example.com/far.png"></head>`))
	}))
	defer srv.Close()

	s := NewScraper(ScraperConfig{MaxBodyBytes: 4096})
	got, err := s.PreviewImage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestYouTubeVideoID(t *testing.T) {
	tests := []struct {
		url  string
		id   string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtube.com/shorts/abc123def45", "abc123def45", true},
		{"https://www.youtube.com/embed/abc123def45?rel=0", "abc123def45", true},
		{"https://m.youtube.com/watch?v=xyz", "xyz", true},
		{"https://vimeo.com/12345", "", false},
		{"https://example.com/watch?v=nope", "", false},
		{"://bad", "", false},
	}

	for _, tt := range tests {
		id, ok := YouTubeVideoID(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.id, id, tt.url)
	}
}

func TestVideoThumbnailFallsBack(t *testing.T) {
	// The maxres probe goes out over HTTP; point the scraper's client at a
	// server that rejects HEAD so the hqdefault fallback is used.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewScraper(ScraperConfig{Client: srv.Client()})
	// Client transport still resolves to i.ytimg.com; rewrite via a client
	// whose transport redirects everything to the test server.
	s.client = &http.Client{Transport: rewriteTransport{target: srv.URL}}

	got := s.VideoThumbnail(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg", got)

	assert.Empty(t, s.VideoThumbnail(context.Background(), "https://vimeo.com/1"))
}

type rewriteTransport struct {
	target string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewritten := rt.target + req.URL.Path
	clone := req.Clone(req.Context())
	u, err := clone.URL.Parse(rewritten)
	if err != nil {
		return nil, err
	}
	clone.URL = u
	clone.Host = u.Host
	return http.DefaultTransport.RoundTrip(clone)
}
