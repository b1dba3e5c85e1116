package config

import (
	"strings"
	"time"
)

const defaultObservabilityName = "socialsync"

// ObservabilityConfig groups configuration that controls metrics, logging, and notifications.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to external sinks such as StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls outbound user notifications,
// currently reconnect emails sent when an account's token is revoked.
type ObservabilityNotificationsConfig struct {
	Enabled    bool          `env:"OBSERVABILITY_NOTIFICATIONS_ENABLED"     envDefault:"false"`
	Timeout    time.Duration `env:"OBSERVABILITY_NOTIFICATIONS_TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"OBSERVABILITY_NOTIFICATIONS_RETRY_LIMIT" envDefault:"3"`
	Mailer     MailerConfig  `envPrefix:"OBSERVABILITY_NOTIFICATIONS_MAILER_"`
}

// Sanitize normalises notification configuration values.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}

	c.Mailer.sanitize()

	if !c.Enabled {
		c.Mailer.Enabled = false
		return
	}

	if c.Mailer.Enabled && c.Mailer.WebhookURL == "" {
		c.Mailer.Enabled = false
	}
}

// MailerConfig controls delivery of reconnect emails through the mail
// service's webhook endpoint.
type MailerConfig struct {
	Enabled    bool   `env:"ENABLED" envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL"`
	FromName   string `env:"FROM_NAME" envDefault:"socialsync"`
	// AppURLPrefix is prepended to reconnect links in email bodies.
	AppURLPrefix string `env:"APP_URL_PREFIX"`
}

func (c *MailerConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.AppURLPrefix = strings.TrimSpace(c.AppURLPrefix)
	if c.FromName == "" {
		c.FromName = defaultObservabilityName
	}
}
