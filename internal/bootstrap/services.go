package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/socialsyncara/publish-worker/config"
	reaperadapter "github.com/socialsyncara/publish-worker/internal/adapters/reaper"
	workeradapter "github.com/socialsyncara/publish-worker/internal/adapters/worker"
	"github.com/socialsyncara/publish-worker/internal/core"
	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/data/cryptoutil"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
	"github.com/socialsyncara/publish-worker/internal/media"
	"github.com/socialsyncara/publish-worker/internal/observability/notify"
	"github.com/socialsyncara/publish-worker/internal/observability/notify/mailer"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
	"github.com/socialsyncara/publish-worker/internal/platform"
	"github.com/socialsyncara/publish-worker/internal/platform/linkedin"
	"github.com/socialsyncara/publish-worker/internal/platform/webhook"
	"github.com/socialsyncara/publish-worker/internal/service"
)

// ServiceDeps carries the shared infrastructure the service container is
// built from.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// ServiceContainer holds the constructed runners and shared observability
// handles.
type ServiceContainer struct {
	WorkerRunner *workeradapter.Runner
	ReaperRunner *reaperadapter.Runner
	Metrics      *statsd.Client
}

// NewServices wires repositories, platform clients, and services into
// runnable containers for the enabled service modes.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metricsClient := buildMetrics(cfg.Observability.Metrics, logger)

	encryptor, err := CreateEncryptor(cfg.TokenEncryptionKey, cfg.IsDev, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	posts := data.NewPostRepo(deps.DB, data.PostRepoConfig{
		MaxRetries: model.MaxRetries,
		Logger:     logger,
	})
	accounts := data.NewAccountRepo(deps.DB, data.AccountRepoConfig{Logger: logger})
	history := data.NewHistoryRepo(deps.DB, nil)
	cycleLogs := data.NewCycleLogRepo(deps.DB)

	container := ServiceContainer{Metrics: metricsClient}

	if cfg.IsWorkerEnabled() {
		processor, perr := buildProcessor(processorDeps{
			cfg:       cfg,
			posts:     posts,
			accounts:  accounts,
			history:   history,
			encryptor: encryptor,
			redis:     deps.RedisClient,
			metrics:   metricsClient,
			logger:    logger,
		})
		if perr != nil {
			return ServiceContainer{}, perr
		}

		runner, werr := workeradapter.NewRunner(workeradapter.RunnerOptions{
			DB:         deps.DB,
			Processor:  processor,
			Interval:   cfg.Worker.Interval,
			BatchSize:  cfg.Worker.BatchSize,
			StaleAfter: cfg.Worker.StaleAfter,
			Posts:      posts,
			CycleLogs:  cycleLogs,
			Metrics:    metricsClient,
			Logger:     logger,
		})
		if werr != nil {
			return ServiceContainer{}, fmt.Errorf("build worker runner: %w", werr)
		}
		container.WorkerRunner = runner
	}

	if cfg.IsReaperEnabled() {
		runner, rerr := reaperadapter.NewRunner(reaperadapter.RunnerOptions{
			DB:        deps.DB,
			Config:    cfg.Reaper,
			History:   history,
			CycleLogs: cycleLogs,
			Metrics:   metricsClient,
			Logger:    logger,
		})
		if rerr != nil {
			return ServiceContainer{}, fmt.Errorf("build reaper runner: %w", rerr)
		}
		container.ReaperRunner = runner
	}

	return container, nil
}

type processorDeps struct {
	cfg       *config.AppConfig
	posts     core.PostRepository
	accounts  core.AccountRepository
	history   core.HistoryRepository
	encryptor cryptoutil.Encryptor
	redis     redis.UniversalClient
	metrics   *statsd.Client
	logger    *slog.Logger
}

// buildProcessor assembles the per-post pipeline: admission control, token
// source, publishers, preview resolution.
func buildProcessor(d processorDeps) (service.PostProcessor, error) {
	cfg := d.cfg

	rateLimiter, err := service.NewRateLimitService(service.RateLimitServiceOptions{
		History: d.history,
		Metrics: d.metrics,
		Logger:  d.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}

	notifier := service.NewDisconnectNotifier(buildMailSink(cfg.Observability.Notifications, d.logger), d.logger)

	credentials, err := service.NewCredentialsService(service.CredentialsServiceOptions{
		Accounts:     d.accounts,
		Crypto:       d.encryptor,
		OAuth:        buildOAuthConfigs(cfg.Platforms),
		ExpiryBuffer: cfg.Credentials.ExpiryBuffer,
		FreshWindow:  cfg.Credentials.FreshWindow,
		HTTPTimeout:  cfg.Credentials.HTTPTimeout,
		Notifier:     notifier,
		Metrics:      d.metrics,
		Logger:       d.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build credentials service: %w", err)
	}

	registry, err := buildPublisherRegistry(cfg.Platforms, d.logger)
	if err != nil {
		return nil, err
	}

	scraper := media.NewScraper(media.ScraperConfig{
		Timeout:      cfg.Platforms.Preview.Timeout,
		MaxBodyBytes: cfg.Platforms.Preview.MaxBodyBytes,
		UserAgent:    cfg.Platforms.Preview.UserAgent,
	})
	var previews service.PreviewResolver = scraper
	if d.redis != nil {
		previews = core.NewPreviewCacheService(core.PreviewCacheServiceOptions{
			Cache:   data.NewRedisCacheRepo(d.redis),
			Fetcher: scraper,
			TTL:     cfg.Cache.PreviewTTL,
		})
	}

	publishService, err := service.NewPublishService(service.PublishServiceOptions{
		Posts:         d.posts,
		Accounts:      d.accounts,
		History:       d.history,
		Tokens:        credentials,
		RateLimit:     rateLimiter,
		Publishers:    registry,
		Previews:      previews,
		Thumbnails:    scraper,
		RetryCooldown: cfg.Worker.RetryCooldown,
		Metrics:       d.metrics,
		Logger:        d.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build publish service: %w", err)
	}
	return publishService, nil
}

// buildPublisherRegistry registers the dedicated platform clients and the
// generic webhook fallback when one is configured.
func buildPublisherRegistry(cfg config.PlatformsConfig, logger *slog.Logger) (*platform.Registry, error) {
	registry := platform.NewRegistry()

	linkedinClient, err := linkedin.NewClient(linkedin.Config{
		APIBaseURL:  cfg.LinkedIn.APIBaseURL,
		Version:     cfg.LinkedIn.Version,
		Timeout:     cfg.LinkedIn.HTTPTimeout,
		TargetDelay: cfg.LinkedIn.TargetDelay,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build linkedin client: %w", err)
	}
	registry.Register(linkedinClient)

	if cfg.Webhook.IsEnabled() {
		hook, err := webhook.NewPublisher(webhook.Config{
			URL:          cfg.Webhook.URL,
			AuthHeader:   cfg.Webhook.AuthHeader,
			IDExpression: cfg.Webhook.IDExpression,
			Platform:     "WEBHOOK",
			Timeout:      cfg.Webhook.HTTPTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build webhook publisher: %w", err)
		}
		registry.SetFallback(hook)
	}
	return registry, nil
}

// buildOAuthConfigs maps platform names to refresh-grant configuration.
func buildOAuthConfigs(cfg config.PlatformsConfig) map[string]*oauth2.Config {
	configs := make(map[string]*oauth2.Config)
	if cfg.LinkedIn.ClientID != "" && cfg.LinkedIn.ClientSecret != "" {
		configs["LINKEDIN"] = &oauth2.Config{
			ClientID:     cfg.LinkedIn.ClientID,
			ClientSecret: cfg.LinkedIn.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.LinkedIn.TokenURL,
				// LinkedIn's token endpoint wants credentials in the form
				// body, not basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	}
	return configs
}

func buildMetrics(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  "socialsync.publish",
		Logger:  logger,
		GlobalTags: map[string]string{
			"service": "worker",
		},
	})
	if err != nil {
		logger.Warn("statsd client unavailable, metrics disabled", "error", err)
		return nil
	}
	return client
}

// buildMailSink returns the reconnect-email sink, or nil when mail delivery
// is disabled.
func buildMailSink(cfg config.ObservabilityNotificationsConfig, logger *slog.Logger) notify.Sink {
	if !cfg.Mailer.Enabled {
		return nil
	}
	client, err := mailer.NewClient(mailer.Config{
		WebhookURL:   cfg.Mailer.WebhookURL,
		FromName:     cfg.Mailer.FromName,
		AppURLPrefix: cfg.Mailer.AppURLPrefix,
		Timeout:      cfg.Timeout,
		RetryLimit:   cfg.RetryLimit,
	})
	if err != nil {
		logger.Warn("mailer unavailable, disconnect notifications disabled", "error", err)
		return nil
	}
	return client
}

// RunServicesWithShutdown runs the enabled service loops until a signal
// arrives, then waits for them to stop.
func RunServicesWithShutdown(ctx context.Context, container ServiceContainer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if logger == nil {
		logger = slog.Default()
	}

	group, gctx := errgroup.WithContext(ctx)
	started := make([]string, 0, 2)

	if container.WorkerRunner != nil {
		started = append(started, "worker")
		group.Go(func() error {
			return container.WorkerRunner.Run(gctx)
		})
	}
	if container.ReaperRunner != nil {
		started = append(started, "reaper")
		group.Go(func() error {
			return container.ReaperRunner.Run(gctx)
		})
	}
	if len(started) == 0 {
		return errors.New("no services to run")
	}

	logger.InfoContext(ctx, "services started", "services", strings.Join(started, ","))

	err := group.Wait()

	if container.Metrics != nil {
		if cerr := container.Metrics.Close(); cerr != nil {
			logger.WarnContext(ctx, "close metrics client failed", "error", cerr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoContext(ctx, "services stopped")
	return nil
}
