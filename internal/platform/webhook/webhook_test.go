package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/socialsyncara/publish-worker/internal/errors"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

func redditPost() *model.ScheduledPost {
	return &model.ScheduledPost{
		ID:          "post-9",
		UserID:      "user-1",
		Platform:    "REDDIT",
		PostType:    model.PostTypeText,
		ContentText: "scheduled via webhook",
		TargetType:  model.TargetFeed,
	}
}

func TestPublishExtractsID(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hook-secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"result":{"post_id":"t3_abc123"}}`))
	}))
	defer srv.Close()

	pub, err := NewPublisher(Config{
		URL:          srv.URL,
		AuthHeader:   "Bearer hook-secret",
		IDExpression: "result.post_id",
		Platform:     "REDDIT",
	})
	require.NoError(t, err)
	assert.Equal(t, "REDDIT", pub.Platform())

	result, err := pub.Publish(context.Background(), &model.PublishRequest{
		Post:        redditPost(),
		AccessToken: "tok",
	})
	require.NoError(t, err)

	assert.Equal(t, model.PublishStatusPublished, result.Status)
	assert.Equal(t, []string{"t3_abc123"}, result.ExternalIDs)
	assert.Equal(t, "post-9", payload["post_id"])
	assert.Equal(t, "REDDIT", payload["platform"])
}

func TestPublishNumericID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":90210}`))
	}))
	defer srv.Close()

	pub, err := NewPublisher(Config{URL: srv.URL, Platform: "X"})
	require.NoError(t, err)

	result, err := pub.Publish(context.Background(), &model.PublishRequest{Post: redditPost()})
	require.NoError(t, err)
	assert.Equal(t, []string{"90210"}, result.ExternalIDs)
}

func TestPublishErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`subreddit does not exist`))
	}))
	defer srv.Close()

	pub, err := NewPublisher(Config{URL: srv.URL, Platform: "REDDIT"})
	require.NoError(t, err)

	result, err := pub.Publish(context.Background(), &model.PublishRequest{Post: redditPost()})
	require.NoError(t, err)
	require.Equal(t, model.PublishStatusFailed, result.Status)

	pe, ok := apperrors.AsPublishError(result.Targets[0].Err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.True(t, pe.Permanent)
	assert.Contains(t, pe.Message, "subreddit does not exist")
}

func TestPublishMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	pub, err := NewPublisher(Config{URL: srv.URL, Platform: "X"})
	require.NoError(t, err)

	result, err := pub.Publish(context.Background(), &model.PublishRequest{Post: redditPost()})
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatusFailed, result.Status)
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(Config{Platform: "X"})
	assert.Error(t, err)

	_, err = NewPublisher(Config{URL: "https://hooks.example.com", Platform: "X", IDExpression: "!!!"})
	assert.Error(t, err)

	_, err = NewPublisher(Config{URL: "https://hooks.example.com"})
	assert.Error(t, err)
}
