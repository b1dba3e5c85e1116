package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - services.go: Service mode, worker, and reaper configuration
//   - platforms.go: Social platform API and OAuth configuration
//   - observability.go: Metrics and notification configuration
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// TokenEncryptionKey encrypts stored OAuth tokens at rest.
	// Required for production, optional for development.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"worker"`

	// Worker configuration
	Worker WorkerConfig

	// Credentials configuration
	Credentials CredentialsConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Platform configuration
	Platforms PlatformsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.Credentials.Sanitize()
	c.Reaper.Sanitize()
	c.Platforms.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsWorkerEnabled returns true if the publish worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsReaperEnabled returns true if the retention reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
