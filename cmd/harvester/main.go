// Package main wires together the permit harvester service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	pubsubclient "cloud.google.com/go/pubsub"

	"github.com/permitstream/harvester/internal/adapter"
	"github.com/permitstream/harvester/internal/adapter/discovery"
	"github.com/permitstream/harvester/internal/alert"
	"github.com/permitstream/harvester/internal/api"
	"github.com/permitstream/harvester/internal/clock/system"
	"github.com/permitstream/harvester/internal/config"
	collyfetch "github.com/permitstream/harvester/internal/fetch/colly"
	"github.com/permitstream/harvester/internal/fetch/headless"
	"github.com/permitstream/harvester/internal/health"
	"github.com/permitstream/harvester/internal/id/uuid"
	"github.com/permitstream/harvester/internal/logging"
	"github.com/permitstream/harvester/internal/metrics"
	"github.com/permitstream/harvester/internal/permit"
	pubsubpublisher "github.com/permitstream/harvester/internal/publisher/pubsub"
	"github.com/permitstream/harvester/internal/retry"
	"github.com/permitstream/harvester/internal/routing"
	"github.com/permitstream/harvester/internal/scheduler"
	"github.com/permitstream/harvester/internal/session"
	"github.com/permitstream/harvester/internal/sink"
	"github.com/permitstream/harvester/internal/sink/csvfile"
	gcssink "github.com/permitstream/harvester/internal/sink/gcs"
	postgressink "github.com/permitstream/harvester/internal/sink/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, "harvester")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()
	idGen := uuid.New()

	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		HostRPS:   cfg.Fetch.HostRPS,
		HostBurst: cfg.Fetch.HostBurst,
	})

	// The noop renderer keeps rendered endpoints buildable when no browser
	// is available; their pages then fail like any other unreachable source
	// and the session moves on to the next adapter.
	var renderer permit.Renderer = headless.NewNoop()
	if cfg.Headless.Enabled {
		chromedpRenderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed, rendered endpoints degrade to noop", zap.Error(err))
		} else {
			defer chromedpRenderer.Close()
			renderer = chromedpRenderer
		}
	}

	sinks, cleanup, err := buildSinks(ctx, cfg, clock, idGen, logger)
	if err != nil {
		logger.Fatal("sink init failed", zap.Error(err))
	}
	defer cleanup()

	routes, err := routing.Load(cfg.Routing, cfg.TargetNames(), logger.Named("routing"))
	if err != nil {
		logger.Fatal("routing table invalid", zap.Error(err))
	}

	deps := adapter.Deps{
		Fetcher:         fetcher,
		Renderer:        renderer,
		Clock:           clock,
		DefaultPageSize: cfg.Session.PageSize,
		LookbackDays:    cfg.Session.LookbackDays,
		State:           cfg.Session.State,
		Logger:          logger.Named("adapter"),
	}
	build := func(endpoints []permit.EndpointConfig) ([]permit.Adapter, error) {
		return adapter.Build(endpoints, deps)
	}
	scanner := discovery.New(fetcher, logger.Named("discovery"))

	harvester := session.New(session.Config{
		MaxRecords:       cfg.Session.MaxRecords,
		PagePause:        cfg.PagePause(),
		FailureThreshold: cfg.Session.FailureThreshold,
		Retry: retry.Config{
			MaxRetries:   cfg.Fetch.MaxRetries,
			InitialDelay: time.Duration(cfg.Fetch.RetryDelaySeconds) * time.Second,
		},
	}, build, scanner, sinks, logger.Named("session"))

	alerter := buildAlerter(cfg, logger)
	publisher, pubCleanup := buildPublisher(ctx, cfg, logger)
	defer pubCleanup()

	tracker := health.New(clock)
	sched := scheduler.New(scheduler.Config{
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Scheduler.RetryDelaySeconds) * time.Second,
		MaxPacing:   cfg.MaxPacing(),
		StatusEvery: cfg.Scheduler.StatusEvery,
		AlertEvery:  cfg.Scheduler.AlertEvery,
		Topic:       cfg.PubSub.TopicName,
	}, cfg.Targets, routes, tracker, harvester, alerter, publisher, logger.Named("scheduler"))

	apiServer := api.NewServer(tracker, routes, cfg.Targets, clock, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", zap.Error(err))
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildSinks assembles the batch destinations. CSV output is always on;
// Postgres and GCS join the fan-out when configured.
func buildSinks(ctx context.Context, cfg config.Config, clock permit.Clock, idGen permit.IDGenerator, logger *zap.Logger) (permit.Sink, func(), error) {
	var sinks []permit.Sink
	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	csvSink, err := csvfile.New(csvfile.Config{BaseDir: cfg.Storage.OutputDir}, clock, logger.Named("csv"))
	if err != nil {
		return nil, cleanup, fmt.Errorf("csv sink: %w", err)
	}
	sinks = append(sinks, csvSink)

	if cfg.DB.DSN != "" {
		pgSink, err := postgressink.New(ctx, postgressink.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres sink: %w", err)
		}
		cleanups = append(cleanups, pgSink.Close)
		sinks = append(sinks, pgSink)
		logger.Info("postgres sink enabled")
	}

	if cfg.Storage.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, cleanup, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcssink.NewBlobStore(ctx, client, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, cleanup, fmt.Errorf("gcs sink: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		sinks = append(sinks, gcssink.NewSink(store, cfg.Storage.Prefix, clock, idGen))
		logger.Info("gcs sink enabled", zap.String("bucket", cfg.Storage.GCSBucket))
	}

	return sink.NewMulti(sinks...), cleanup, nil
}

func buildAlerter(cfg config.Config, logger *zap.Logger) permit.Alerter {
	logAlerter := alert.NewLog(logger.Named("alerts"))
	if cfg.Alerts.WebhookURL == "" {
		return logAlerter
	}
	webhook := alert.NewWebhook(cfg.Alerts.WebhookURL, time.Duration(cfg.Alerts.TimeoutSeconds)*time.Second)
	return alert.NewMulti(logAlerter, webhook)
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (permit.Publisher, func()) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, func() {}
	}
	client, err := pubsubclient.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub init failed, publishing disabled", zap.Error(err))
		return nil, func() {}
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	logger.Info("pubsub publisher enabled", zap.String("topic", cfg.PubSub.TopicName))
	return pubsubpublisher.New(topic), cleanup
}
