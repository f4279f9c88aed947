// Package app wires up topicwatch's infrastructure clients and dispatches
// to the mode selected in config (spec.md §6 "Operator surface").
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/config"
	"github.com/ashgrove/topicwatch/internal/httpserver"
	"github.com/ashgrove/topicwatch/internal/nlp"
	"github.com/ashgrove/topicwatch/internal/notify"
	"github.com/ashgrove/topicwatch/internal/pipeline"
	"github.com/ashgrove/topicwatch/internal/platform"
	"github.com/ashgrove/topicwatch/internal/ratelimit"
	"github.com/ashgrove/topicwatch/internal/social"
	"github.com/ashgrove/topicwatch/internal/store"
	"github.com/ashgrove/topicwatch/internal/telemetry"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode selected by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting topicwatch", "mode", cfg.Mode)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	st := store.New(db)
	br := broker.New(rdb)
	registry := ratelimit.New(rdb)

	postsClient, err := newPostsClient(cfg)
	if err != nil {
		return fmt.Errorf("configuring posts API client: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, st, postsClient)
	case "pipeline":
		return runPipeline(ctx, cfg, logger, st, br, registry, postsClient)
	case "enqueue":
		return runEnqueue(ctx, cfg, logger, st, postsClient)
	case "requeue-dead":
		return runRequeueDead(ctx, cfg, logger, br)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func newPostsClient(cfg *config.Config) (social.Port, error) {
	if cfg.PostsAPIBaseURL == "" {
		return social.NewFake(), nil
	}
	return social.NewHTTPClient(cfg.PostsAPIBaseURL, cfg.PostsAPITokenURL, cfg.PostsAPIClientID, cfg.PostsAPIClientSecret), nil
}

func newNLPClient(cfg *config.Config) nlp.Port {
	if cfg.NLPAPIBaseURL == "" {
		return nlp.NewFake()
	}
	return nlp.NewHTTPClient(cfg.NLPAPIBaseURL, cfg.NLPAPIKey)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, st *store.Store, posts social.Port) error {
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, st, posts, metricsReg)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *store.Store, br *broker.Broker, registry *ratelimit.Registry, posts social.Port) error {
	nlpClient := newNLPClient(cfg)

	rescrapeAfter, err := time.ParseDuration(cfg.ScrapeRescrapeAfter)
	if err != nil {
		return fmt.Errorf("parsing SCRAPE_RESCRAPE_AFTER: %w", err)
	}
	nlpBackoff, err := time.ParseDuration(cfg.NLPRateLimitBackoff)
	if err != nil {
		return fmt.Errorf("parsing TOPICWATCH_NLP_RATE_LIMIT_BACKOFF: %w", err)
	}
	tickSleep, err := time.ParseDuration(cfg.ContinuousTickSleep)
	if err != nil {
		return fmt.Errorf("parsing TOPICWATCH_CONTINUOUS_TICK_SLEEP: %w", err)
	}

	var notifier pipeline.Notifier
	slackNotifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger)
	if slackNotifier.IsEnabled() {
		notifier = slackNotifier
		logger.Info("slack notifications enabled", "channel", cfg.SlackChannel)
	} else {
		logger.Info("slack notifications disabled (TOPICWATCH_SLACK_BOT_TOKEN not set)")
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	workerMetrics := pipeline.WorkerMetrics{
		Wait:         telemetry.RateLimitWaitTotal,
		Processed:    telemetry.RecordsProcessedTotal,
		DeadLettered: telemetry.RecordsDeadLetteredTotal,
	}

	runner := &pipeline.Runner{
		Coordinator: pipeline.NewCoordinator(st, br, notifier, rescrapeAfter, telemetry.QueueDepth),
		Scrape:      pipeline.NewScrapeWorker(br, registry, posts, logger, cfg.ScrapePostsPerFetch, cfg.MaxAttempts, workerMetrics),
		Entity:      pipeline.NewEntityWorker(br, registry, nlpClient, logger, nlpBackoff, cfg.MaxAttempts, workerMetrics),
		Classify:    pipeline.NewClassifyWorker(br, registry, nlpClient, logger, nlpBackoff, cfg.MaxAttempts, workerMetrics),
		Discoverer:  pipeline.NewDiscoverer(st, posts, registry, notifier, logger),
		Registry:    registry,
		Broker:      br,
		Logger:      logger,
		TickSleep:   tickSleep,
	}

	switch cfg.PipelineMode {
	case "batch":
		runner.Mode = pipeline.ModeBatch
	case "continuous", "":
		runner.Mode = pipeline.ModeContinuous
	default:
		return fmt.Errorf("unknown pipeline mode: %s", cfg.PipelineMode)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr(),
		Handler: metricsMux,
	}

	metricsErrCh := make(chan error, 1)
	go func() {
		logger.Info("pipeline metrics server listening", "addr", cfg.MetricsAddr())
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		close(metricsErrCh)
	}()

	runErrCh := make(chan error, 1)
	go func() {
		logger.Info("pipeline starting", "pipeline_mode", cfg.PipelineMode)
		runErrCh <- runner.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down pipeline")
		runErr = <-runErrCh
	case runErr = <-runErrCh:
	case err := <-metricsErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down metrics server", "error", err)
	}
	return runErr
}

func runEnqueue(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *store.Store, posts social.Port) error {
	if cfg.Username == "" {
		return fmt.Errorf("TOPICWATCH_USERNAME must be set for -mode=enqueue")
	}

	u, ok, err := posts.GetUserByUsername(ctx, cfg.Username)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", cfg.Username, err)
	}
	if !ok {
		return fmt.Errorf("no such user: %s", cfg.Username)
	}

	if err := st.UpsertUser(ctx, store.User{
		ID: u.ID, Username: u.Username, Name: u.Name, URL: u.URL,
		Description: u.Description, Verified: u.Verified, Protected: u.Protected,
	}); err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}

	logger.Info("enqueued user", "user_id", u.ID, "username", u.Username)
	return nil
}

func runRequeueDead(ctx context.Context, cfg *config.Config, logger *slog.Logger, br *broker.Broker) error {
	if cfg.RequeueStage == "" {
		return fmt.Errorf("TOPICWATCH_REQUEUE_STAGE must be set for -mode=requeue-dead")
	}

	deadKey := broker.DeadKey(cfg.RequeueStage)
	items, err := br.DrainDead(ctx, deadKey)
	if err != nil {
		return fmt.Errorf("draining dead-letter queue %s: %w", deadKey, err)
	}

	// req.scrape is a set keyed by user id; req.entity/req.classify are
	// lists of full encoded envelopes (see attempts.go's deadPayload doc).
	switch cfg.RequeueStage {
	case broker.StageScrape:
		for _, userID := range items {
			if err := br.Add(ctx, broker.ReqScrape, userID); err != nil {
				return fmt.Errorf("requeuing dead-lettered user onto req.scrape: %w", err)
			}
		}
	case broker.StageEntity:
		for _, payload := range items {
			if err := br.PushTail(ctx, broker.ReqEntity, payload); err != nil {
				return fmt.Errorf("requeuing dead-lettered entry onto req.entity: %w", err)
			}
		}
	case broker.StageClassify:
		for _, payload := range items {
			if err := br.PushTail(ctx, broker.ReqClassify, payload); err != nil {
				return fmt.Errorf("requeuing dead-lettered entry onto req.classify: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown stage: %s", cfg.RequeueStage)
	}

	logger.Info("requeued dead-lettered entries", "stage", cfg.RequeueStage, "count", len(items))
	return nil
}
