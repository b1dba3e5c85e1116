package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the scheduled post publish worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the retention reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains publish worker service configuration.
type WorkerConfig struct {
	// Interval is the worker tick interval.
	Interval time.Duration `env:"WORKER_INTERVAL" envDefault:"1m"`

	// BatchSize is the maximum number of due posts claimed per cycle.
	BatchSize int `env:"WORKER_BATCH_SIZE" envDefault:"50"`

	// StaleAfter is how long a post may sit in processing before the
	// worker assumes its claimant crashed and returns it to pending.
	StaleAfter time.Duration `env:"WORKER_STALE_AFTER" envDefault:"30m"`

	// RetryCooldown is how far into the future a transiently failed post
	// is pushed before it becomes due again.
	RetryCooldown time.Duration `env:"WORKER_RETRY_COOLDOWN" envDefault:"5m"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Interval < time.Second {
		w.Interval = time.Second
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	if w.BatchSize > 500 {
		w.BatchSize = 500
	}
	if w.StaleAfter < time.Minute {
		w.StaleAfter = time.Minute
	}
	if w.RetryCooldown < 0 {
		w.RetryCooldown = 0
	}
}

// CredentialsConfig contains OAuth token refresh configuration.
type CredentialsConfig struct {
	// ExpiryBuffer is how close to expiry a token may be before it is
	// refreshed ahead of use.
	ExpiryBuffer time.Duration `env:"CREDENTIALS_EXPIRY_BUFFER" envDefault:"5m"`

	// FreshWindow is the window after a refresh during which a token that
	// still looks expired is trusted anyway. This absorbs races where a
	// concurrent claimant refreshed the row between our read and refresh.
	FreshWindow time.Duration `env:"CREDENTIALS_FRESH_WINDOW" envDefault:"30s"`

	// HTTPTimeout bounds each token endpoint request.
	HTTPTimeout time.Duration `env:"CREDENTIALS_HTTP_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to credentials configuration values.
func (c *CredentialsConfig) Sanitize() {
	if c.ExpiryBuffer < 0 {
		c.ExpiryBuffer = 0
	}
	if c.FreshWindow < 0 {
		c.FreshWindow = 0
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
}

// ReaperConfig contains retention reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`

	// CycleLogMaxAge is the maximum age for worker cycle log rows before deletion.
	CycleLogMaxAge time.Duration `env:"REAPER_CYCLE_LOG_MAX_AGE" envDefault:"720h"` // 30 days

	// PostHistoryMaxAge is the maximum age for post history rows before deletion.
	// History older than every platform rate window is dead weight.
	PostHistoryMaxAge time.Duration `env:"REAPER_POST_HISTORY_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.CycleLogMaxAge < 24*time.Hour {
		r.CycleLogMaxAge = 24 * time.Hour
	}
	if r.PostHistoryMaxAge < 24*time.Hour {
		r.PostHistoryMaxAge = 24 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
