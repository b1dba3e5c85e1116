package linkedin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIBaseURL: srv.URL, Version: "202405"})
	require.NoError(t, err)
	return client, srv
}

func textPost() *model.ScheduledPost {
	return &model.ScheduledPost{
		ID:          "post-1",
		Platform:    PlatformName,
		PostType:    model.PostTypeText,
		ContentText: "hello network",
		TargetType:  model.TargetFeed,
	}
}

func TestPublishFeedPost(t *testing.T) {
	var body map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/posts", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "202405", r.Header.Get("LinkedIn-Version"))
		assert.Equal(t, "2.0.0", r.Header.Get("X-Restli-Protocol-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("X-Restli-Id", "urn:li:share:42")
		w.WriteHeader(http.StatusCreated)
	}))

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        textPost(),
		AccessToken: "tok-123",
		AuthorRef:   "urn:li:person:abc",
	})
	require.NoError(t, err)

	assert.Equal(t, model.PublishStatusPublished, result.Status)
	assert.Equal(t, []string{"urn:li:share:42"}, result.ExternalIDs)
	assert.Empty(t, result.ResolvedAuthorRef, "cached author should not be re-resolved")

	assert.Equal(t, "urn:li:person:abc", body["author"])
	assert.Equal(t, "hello network", body["commentary"])
	assert.Equal(t, "PUBLIC", body["visibility"])
	assert.Equal(t, "PUBLISHED", body["lifecycleState"])
}

func TestPublishArticleCarriesPreview(t *testing.T) {
	var body map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("X-Restli-Id", "urn:li:share:7")
		w.WriteHeader(http.StatusCreated)
	}))

	title := "Quarterly results"
	post := textPost()
	post.PostType = model.PostTypeArticle
	post.Title = &title
	post.MediaURLs = []string{"https://example.com/article"}

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:            post,
		AccessToken:     "tok",
		AuthorRef:       "urn:li:person:abc",
		PreviewImageURL: "https://cdn.example.com/og.png",
	})
	require.NoError(t, err)
	require.Equal(t, model.PublishStatusPublished, result.Status)

	content, ok := body["content"].(map[string]any)
	require.True(t, ok)
	article, ok := content["article"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/article", article["source"])
	assert.Equal(t, "Quarterly results", article["title"])
	assert.Equal(t, "https://cdn.example.com/og.png", article["thumbnail"])
}

func TestPublishGroupFanOut(t *testing.T) {
	var containers []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		container, _ := body["container"].(string)
		containers = append(containers, container)
		assert.Equal(t, "CONTAINER", body["visibility"])

		if strings.HasSuffix(container, ":bad") {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"not a member of this group"}`))
			return
		}
		w.Header().Set("X-Restli-Id", "urn:li:share:"+container[strings.LastIndex(container, ":")+1:])
		w.WriteHeader(http.StatusCreated)
	}))

	post := textPost()
	post.TargetType = model.TargetGroup
	post.GroupIDs = []string{"100", "bad", "200"}

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        post,
		AccessToken: "tok",
		AuthorRef:   "urn:li:person:abc",
	})
	require.NoError(t, err)

	assert.Equal(t, model.PublishStatusPartial, result.Status)
	assert.Equal(t, []string{"urn:li:share:100", "urn:li:share:200"}, result.ExternalIDs)
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "group bad")
	assert.Equal(t, []string{"urn:li:group:100", "urn:li:group:bad", "urn:li:group:200"}, containers)
}

func TestPublishDuplicateRescue(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Content is a duplicate of urn:li:share:6874","status":422}`))
	}))

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        textPost(),
		AccessToken: "tok",
		AuthorRef:   "urn:li:person:abc",
	})
	require.NoError(t, err)

	assert.Equal(t, model.PublishStatusPublished, result.Status)
	assert.Equal(t, []string{"urn:li:share:6874"}, result.ExternalIDs)
}

func TestPublishFailureIsStructured(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired","serviceErrorCode":65601}`))
	}))

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        textPost(),
		AccessToken: "tok",
		AuthorRef:   "urn:li:person:abc",
	})
	require.NoError(t, err)
	require.Equal(t, model.PublishStatusFailed, result.Status)
	require.Len(t, result.Targets, 1)

	pe, ok := apperrors.AsPublishError(result.Targets[0].Err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.True(t, pe.Permanent)
	assert.False(t, pe.Duplicate())
}

func TestPublishThrottlingIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"throttled"}`))
	}))

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        textPost(),
		AccessToken: "tok",
		AuthorRef:   "urn:li:person:abc",
	})
	require.NoError(t, err)

	pe, ok := apperrors.AsPublishError(result.Targets[0].Err)
	require.True(t, ok)
	assert.False(t, pe.Permanent)
}

func TestPublishValidation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected for invalid posts")
	}))

	empty := textPost()
	empty.ContentText = "   "
	_, err := client.Publish(context.Background(), &model.PublishRequest{Post: empty, AuthorRef: "urn:li:person:a"})
	require.Error(t, err)
	pe, ok := apperrors.AsPublishError(err)
	require.True(t, ok)
	assert.True(t, pe.Permanent)

	long := textPost()
	long.ContentText = strings.Repeat("x", MaxCommentaryLength+1)
	_, err = client.Publish(context.Background(), &model.PublishRequest{Post: long, AuthorRef: "urn:li:person:a"})
	require.Error(t, err)
}

func TestResolveAuthorUserinfo(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/userinfo":
			_, _ = w.Write([]byte(`{"sub":"xyz789"}`))
		case "/rest/posts":
			w.Header().Set("X-Restli-Id", "urn:li:share:1")
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        textPost(),
		AccessToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:person:xyz789", result.ResolvedAuthorRef)
}

func TestResolveAuthorFallsBackToMe(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/userinfo":
			w.WriteHeader(http.StatusForbidden)
		case "/v2/me":
			_, _ = w.Write([]byte(`{"id":"legacy42"}`))
		case "/rest/posts":
			w.Header().Set("X-Restli-Id", "urn:li:share:1")
			w.WriteHeader(http.StatusCreated)
		}
	}))

	result, err := client.Publish(context.Background(), &model.PublishRequest{
		Post:        textPost(),
		AccessToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:person:legacy42", result.ResolvedAuthorRef)
}
