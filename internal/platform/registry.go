// Package platform wires concrete publishers behind a platform-keyed registry.
package platform

import (
	"strings"

	"github.com/socialsyncara/publish-worker/internal/core"
)

// Registry maps platform names to their publishers. An optional fallback
// handles platforms with no dedicated client, such as a generic webhook
// relay.
type Registry struct {
	publishers map[string]core.Publisher
	fallback   core.Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: make(map[string]core.Publisher)}
}

// Register adds a publisher under its own Platform() key. Later
// registrations for the same platform win.
func (r *Registry) Register(p core.Publisher) {
	if p == nil {
		return
	}
	r.publishers[normalize(p.Platform())] = p
}

// SetFallback installs the publisher used for platforms with no dedicated
// registration.
func (r *Registry) SetFallback(p core.Publisher) {
	r.fallback = p
}

// For returns the publisher for a platform, falling back to the generic
// publisher when one is installed. The second return is false when no
// publisher can handle the platform.
func (r *Registry) For(platform string) (core.Publisher, bool) {
	if p, ok := r.publishers[normalize(platform)]; ok {
		return p, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Platforms lists the dedicated registrations, excluding the fallback.
func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	return names
}

func normalize(platform string) string {
	return strings.ToUpper(strings.TrimSpace(platform))
}
