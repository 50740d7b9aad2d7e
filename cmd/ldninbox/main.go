package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/api"
	"github.com/lalithlochan/ldninbox/internal/auth"
	"github.com/lalithlochan/ldninbox/internal/config"
	"github.com/lalithlochan/ldninbox/internal/db"
	"github.com/lalithlochan/ldninbox/internal/delivery"
	"github.com/lalithlochan/ldninbox/internal/events"
	"github.com/lalithlochan/ldninbox/internal/ingest"
	"github.com/lalithlochan/ldninbox/internal/observ"
	"github.com/lalithlochan/ldninbox/internal/redis"
	"github.com/lalithlochan/ldninbox/internal/sns"
	"github.com/lalithlochan/ldninbox/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ldn inbox",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("base_url", cfg.BaseURL),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	checks := map[string]api.HealthCheck{
		"database": database.Health,
	}

	// Redis backs rate limiting and idempotent sends; both are skipped without it
	var (
		limiter     api.Limiter
		idempotency api.Idempotency
	)
	if cfg.RedisEnabled() {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, rate limiting and idempotency disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimitRequests,
				Window: cfg.RateLimitWindow,
			})
			idempotency = redis.NewIdempotencyService(redisClient, logger, cfg.IdempotencyTTL)
			checks["redis"] = redisClient.Ping
		}
	}

	publisher := newPublisher(ctx, cfg, logger)

	tokens, err := auth.ParseStaticTokens(cfg.AuthTokens)
	if err != nil {
		return fmt.Errorf("failed to parse AUTH_TOKENS: %w", err)
	}
	if tokens.Len() == 0 {
		logger.Warn("no auth tokens configured, admin endpoints are unreachable")
	}

	matcher, err := delivery.NewOriginMatcher(cfg.BaseURL, cfg.Port)
	if err != nil {
		return fmt.Errorf("invalid BASE_URL: %w", err)
	}

	pipeline := ingest.NewPipelineWithEvents(repo, cfg.BaseURL, publisher, logger)
	engine := delivery.NewEngineWithEvents(
		repo,
		delivery.NewLocalDispatcher(pipeline, logger),
		delivery.NewHTTPDispatcher(logger, delivery.HTTPConfig{
			Timeout:            cfg.DeliveryTimeout,
			InsecureSkipVerify: cfg.DeliveryInsecureSkipVerify,
		}),
		matcher,
		publisher,
		logger,
	)

	handlerCfg := api.HandlerConfig{
		Checks:       checks,
		BaseURL:      cfg.BaseURL,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	var handler *api.Handler
	if idempotency != nil {
		handler = api.NewHandlerWithIdempotency(logger, repo, pipeline, engine, idempotency, handlerCfg)
	} else {
		handler = api.NewHandler(logger, repo, pipeline, engine, handlerCfg)
	}

	router := api.NewRouter(handler, api.RouterConfig{
		Limiter: limiter,
		Tokens:  tokens,
		Logger:  logger,
		Timeout: requestTimeout(cfg.DeliveryTimeout),
	})

	// WriteTimeout must cover one outgoing delivery
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout(cfg.DeliveryTimeout) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// requestTimeout bounds a whole request. It outlasts one outgoing delivery
// so the dispatcher times out first.
func requestTimeout(delivery time.Duration) time.Duration {
	const margin = 15 * time.Second
	if delivery <= 0 {
		delivery = 10 * time.Second
	}
	return delivery + margin
}

// newPublisher picks the event sink. SNS wins over SQS; a sink that cannot
// be created is logged and events are dropped.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) events.Publisher {
	switch {
	case cfg.EventsSNSTopicARN != "":
		var (
			p   *sns.Publisher
			err error
		)
		if cfg.AWSEndpointURL != "" {
			p, err = sns.NewPublisherWithEndpoint(ctx, cfg.EventsSNSTopicARN, cfg.AWSEndpointURL, cfg.AWSRegion)
		} else {
			p, err = sns.NewPublisher(ctx, cfg.EventsSNSTopicARN, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if err != nil {
			logger.Warn("sns publisher unavailable, events disabled", zap.Error(err))
			return events.Nop{}
		}
		logger.Info("publishing events to sns", zap.String("topic_arn", cfg.EventsSNSTopicARN))
		return p

	case cfg.EventsSQSQueueURL != "":
		p, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.EventsSQSQueueURL,
			Endpoint: cfg.AWSEndpointURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, events disabled", zap.Error(err))
			return events.Nop{}
		}
		logger.Info("publishing events to sqs", zap.String("queue_url", cfg.EventsSQSQueueURL))
		return p

	default:
		return events.Nop{}
	}
}
