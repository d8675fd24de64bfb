package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/app/migrate"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/appdistribution"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/appstore"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/ascapi"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/ghrelease"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/googleauth"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/objectstore"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/playstore"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/testflight"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	httpx "github.com/achintir-projects/android-ios-automation-sub001/internal/http"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/notify"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository/memory"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository/postgres"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/deploy"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/jobs"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/reaper"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/staging"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/ws"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/config"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/logger"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tuning, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		log.Error("failed to load channel tuning", "error", err)
		os.Exit(1)
	}

	repo, health, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open job store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	area, err := staging.New(cfg.StagingDir)
	if err != nil {
		log.Error("failed to prepare staging area", "dir", cfg.StagingDir, "error", err)
		os.Exit(1)
	}

	creds, err := openCredentials(ctx, cfg)
	if err != nil {
		log.Error("failed to configure credentials", "provider", cfg.CredentialsProvider, "error", err)
		os.Exit(1)
	}

	registry, err := channel.NewRegistry(buildAdapters(cfg, tuning, creds)...)
	if err != nil {
		log.Error("failed to register channel adapters", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	defer hub.Close()
	var publisher jobs.Publisher = notify.NewHubPublisher(hub, log)
	var webhook *notify.Webhook
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		webhook, err = notify.NewWebhook(url, cfg.WebhookToken, nil, log)
		if err != nil {
			log.Error("invalid webhook configuration", "error", err)
			os.Exit(1)
		}
		go webhook.Run(ctx)
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		bridge, err := notify.NewRedisBridge(addr, cfg.RedisPass, cfg.RedisDB, cfg.EventsChannel, publisher, log)
		if err != nil {
			log.Warn("redis event relay unavailable, delivering locally only", "error", err)
		} else {
			defer bridge.Close()
			go bridge.Run(ctx)
			publisher = bridge
		}
	}

	if webhook != nil {
		publisher = notify.Multi{publisher, webhook}
	}
	tracker := jobs.New(repo, publisher, log)
	orchestrator := deploy.New(tracker, registry, area, log, deploy.Options{
		JobTimeout:    cfg.JobTimeout,
		DefaultPolicy: channel.Policy{MaxAttempts: cfg.PollMaxAttempts, Interval: cfg.PollInterval},
		Policies:      policies(cfg, tuning),
	})

	if rp := reaper.New(tracker, orchestrator, area, log, cfg); rp != nil {
		go rp.Run(ctx)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		redisLimiter, err := httpx.NewRedisRateLimiter(ctx, client, log)
		if err != nil {
			_ = client.Close()
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:         log,
		Deployer:       orchestrator,
		Streams:        hub,
		Limiter:        limiter,
		SubmitLimit:    cfg.RateLimitSubmit,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Health:         health,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "credentials", cfg.CredentialsProvider)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			log.Warn("deployments interrupted by shutdown", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.JobRepository, func(context.Context) error, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "", "memory":
		return memory.New(), nil, func() {}, nil
	case "postgres":
		runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := runner.Up(ctx); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return postgres.New(pool), pool.Ping, pool.Close, nil
	default:
		return nil, nil, nil, errors.New("unknown store driver " + cfg.StoreDriver)
	}
}

func openCredentials(ctx context.Context, cfg config.APIConfig) (credentials.Provider, error) {
	var provider credentials.Provider
	switch strings.ToLower(strings.TrimSpace(cfg.CredentialsProvider)) {
	case "", "env":
		provider = credentials.NewEnvProvider()
	case "aws":
		secrets, err := credentials.NewAWSProvider(ctx, credentials.AWSOptions{
			Region:   cfg.AWSRegion,
			Endpoint: cfg.AWSEndpoint,
			Prefix:   cfg.AWSSecretsPrefix,
		})
		if err != nil {
			return nil, err
		}
		provider = secrets
	default:
		return nil, errors.New("unknown credentials provider " + cfg.CredentialsProvider)
	}
	return credentials.Unsealing(provider, cfg.CredentialsKey), nil
}

func baseURL(tuning config.ChannelsFile, ch domain.Channel, fallback string) string {
	if override := strings.TrimSpace(tuning.For(string(ch)).BaseURL); override != "" {
		return override
	}
	return fallback
}

func buildAdapters(cfg config.APIConfig, tuning config.ChannelsFile, creds credentials.Provider) []channel.Adapter {
	timeout := cfg.VendorHTTPTimeout
	play := googleauth.NewTokenSource(creds, credentials.GoogleServiceAccount, cfg.GoogleTokenURL, timeout)
	firebase := googleauth.NewTokenSource(creds, credentials.FirebaseServiceAccount, cfg.GoogleTokenURL, timeout)
	connect := func(ch domain.Channel) *ascapi.Connect {
		return ascapi.New(ascapi.Config{
			BaseURL: baseURL(tuning, ch, cfg.AppStoreBaseURL),
			Timeout: timeout,
		}, creds, ascapi.NewCommandUploader(cfg.AppStoreUploadCmd))
	}

	return []channel.Adapter{
		playstore.New(playstore.Config{
			BaseURL:   baseURL(tuning, domain.ChannelStoreRelease, cfg.PlayBaseURL),
			UploadURL: cfg.PlayUploadURL,
			Timeout:   timeout,
		}, play),
		appstore.New(connect(domain.ChannelReviewTrack)),
		testflight.New(connect(domain.ChannelBetaDistribution)),
		appdistribution.New(appdistribution.Config{
			BaseURL: baseURL(tuning, domain.ChannelFileDistribution, cfg.AppDistributionURL),
			Timeout: timeout,
		}, firebase),
		objectstore.New(objectstore.Config{
			Endpoint:  baseURL(tuning, domain.ChannelObjectStorage, cfg.ObjectStoreEndpoint),
			UseSSL:    cfg.ObjectStoreUseSSL,
			PublicURL: cfg.ObjectStorePublicURL,
		}, creds, nil),
		ghrelease.New(ghrelease.Config{
			APIURL:  baseURL(tuning, domain.ChannelArtifactRelease, cfg.GitHubAPIURL),
			GitURL:  cfg.GitHubGitURL,
			Timeout: timeout,
		}, creds, nil),
	}
}

func policies(cfg config.APIConfig, tuning config.ChannelsFile) map[domain.Channel]channel.Policy {
	out := make(map[domain.Channel]channel.Policy, len(domain.Channels()))
	for _, ch := range domain.Channels() {
		t := tuning.For(string(ch))
		policy := channel.Policy{
			MaxAttempts: cfg.PollMaxAttempts,
			Interval:    cfg.PollInterval,
			Backoff:     t.PollBackoff,
			MaxInterval: t.PollMaxInterval,
		}
		if t.PollMaxAttempts > 0 {
			policy.MaxAttempts = t.PollMaxAttempts
		}
		if t.PollInterval > 0 {
			policy.Interval = t.PollInterval
		}
		out[ch] = policy
	}
	return out
}
