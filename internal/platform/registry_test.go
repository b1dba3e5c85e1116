package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialsyncara/publish-worker/internal/domain/model"
)

type stubPublisher struct{ name string }

func (s *stubPublisher) Platform() string { return s.name }

func (s *stubPublisher) Publish(context.Context, *model.PublishRequest) (*model.PublishResult, error) {
	return &model.PublishResult{Status: model.PublishStatusPublished}, nil
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	linkedin := &stubPublisher{name: "LINKEDIN"}
	reg.Register(linkedin)

	got, ok := reg.For("linkedin")
	require.True(t, ok)
	assert.Same(t, linkedin, got)

	_, ok = reg.For("X")
	assert.False(t, ok)
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubPublisher{name: "LINKEDIN"})
	hook := &stubPublisher{name: "WEBHOOK"}
	reg.SetFallback(hook)

	got, ok := reg.For("REDDIT")
	require.True(t, ok)
	assert.Same(t, hook, got)

	got, ok = reg.For("LINKEDIN")
	require.True(t, ok)
	assert.NotSame(t, hook, got)
}
