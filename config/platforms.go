package config

import (
	"strings"
	"time"
)

// PlatformsConfig groups social platform API and OAuth configuration.
type PlatformsConfig struct {
	LinkedIn LinkedInConfig         `envPrefix:"LINKEDIN_"`
	Webhook  WebhookPublisherConfig `envPrefix:"PUBLISH_WEBHOOK_"`
	Preview  PreviewConfig          `envPrefix:"PREVIEW_"`
}

// Sanitize applies guardrails to platform sub-configs.
func (p *PlatformsConfig) Sanitize() {
	p.LinkedIn.Sanitize()
	p.Webhook.Sanitize()
	p.Preview.Sanitize()
}

// LinkedInConfig contains LinkedIn API and OAuth application configuration.
type LinkedInConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// TokenURL is the OAuth token endpoint used for refresh grants.
	TokenURL string `env:"TOKEN_URL" envDefault:"https://www.linkedin.com/oauth/v2/accessToken"`

	// APIBaseURL is the REST API base used for publishing.
	APIBaseURL string `env:"API_BASE_URL" envDefault:"https://api.linkedin.com"`

	// Version is the LinkedIn-Version header value sent with REST requests.
	Version string `env:"VERSION" envDefault:"202405"`

	// HTTPTimeout bounds each API request.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// TargetDelay is the pause between consecutive group targets during
	// fan-out.
	TargetDelay time.Duration `env:"TARGET_DELAY" envDefault:"1s"`
}

// Sanitize normalises LinkedIn configuration values.
func (c *LinkedInConfig) Sanitize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.TokenURL = strings.TrimSpace(c.TokenURL)
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.TargetDelay < 0 {
		c.TargetDelay = 0
	}
}

// WebhookPublisherConfig controls the generic webhook publisher used for
// platforms without a native client. When URL is empty the publisher is
// disabled and such posts fail permanently.
type WebhookPublisherConfig struct {
	URL string `env:"URL"`

	// AuthHeader is sent as the Authorization header value, if set.
	AuthHeader string `env:"AUTH_HEADER"`

	// IDExpression is a JMESPath expression that extracts the external post
	// identifier from the webhook response body.
	IDExpression string `env:"ID_EXPRESSION" envDefault:"id"`

	// HTTPTimeout bounds each webhook request.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
}

// Sanitize normalises webhook publisher configuration values.
func (c *WebhookPublisherConfig) Sanitize() {
	c.URL = strings.TrimSpace(c.URL)
	c.IDExpression = strings.TrimSpace(c.IDExpression)
	if c.IDExpression == "" {
		c.IDExpression = "id"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
}

// IsEnabled returns true when the webhook publisher has a destination.
func (c *WebhookPublisherConfig) IsEnabled() bool {
	return c.URL != ""
}

// PreviewConfig controls link preview image scraping for article posts.
type PreviewConfig struct {
	// Timeout bounds each page fetch.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`

	// MaxBodyBytes caps how much of a page is read while looking for
	// Open Graph tags.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"` // 1 MiB

	// UserAgent is sent with preview fetches.
	UserAgent string `env:"USER_AGENT" envDefault:"socialsync-preview/1.0"`
}

// Sanitize applies guardrails to preview configuration values.
func (c *PreviewConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBodyBytes < 4096 {
		c.MaxBodyBytes = 4096
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "socialsync-preview/1.0"
	}
}
