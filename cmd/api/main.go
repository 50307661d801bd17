package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/fitroom/internal/api"
	"github.com/dunamismax/fitroom/internal/bootstrap"
	"github.com/dunamismax/fitroom/internal/config"
	"github.com/dunamismax/fitroom/internal/logging"
	"github.com/dunamismax/fitroom/internal/queue"
	"github.com/dunamismax/fitroom/internal/ratelimit"
	"github.com/dunamismax/fitroom/internal/telemetry"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[api] load config: %v", err)
	}
	logger, logCloser := logging.New("api", cfg.Log)
	defer logCloser.Close()

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "fitroom-api",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	objects, err := bootstrap.OpenObjects(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("object storage setup failed: %v", err)
	}
	stores, err := bootstrap.OpenStores(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer stores.Close()

	synth, pool := bootstrap.NewSynthesizer(cfg.Gemini, logger)
	defer pool.Close()

	queueClient := queue.NewClient(cfg.Queue)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisAddr := cfg.RateLimit.RedisAddr
		if redisAddr == "" {
			redisAddr = cfg.Queue.RedisAddr
		}
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		limiter = bucket
		logger.Printf("rate limiting enabled capacity=%d window=%s", bucket.Capacity(), cfg.RateLimit.Window)
	}

	app, err := api.NewServer(logger, api.Dependencies{
		Synthesizer:  synth,
		Queue:        queueClient,
		Jobs:         stores.Jobs,
		Objects:      objects,
		ResultPrefix: cfg.Storage.ResultPrefix,
		Defaults:     cfg.TryOn.Options(),
		PresignTTL:   cfg.Storage.PresignExpiry,
		RateLimiter:  limiter,
	})
	if err != nil {
		logger.Fatalf("api setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
