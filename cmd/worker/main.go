package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/fitroom/internal/bootstrap"
	"github.com/dunamismax/fitroom/internal/config"
	"github.com/dunamismax/fitroom/internal/logging"
	"github.com/dunamismax/fitroom/internal/telemetry"
	"github.com/dunamismax/fitroom/internal/webhook"
	"github.com/dunamismax/fitroom/internal/worker"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[worker] load config: %v", err)
	}
	logger, logCloser := logging.New("worker", cfg.Log)
	defer logCloser.Close()

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "fitroom-worker",
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
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

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

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, objects, cfg.Storage.ResultPrefix, synth, webhookClient, stores.Jobs, stores.Usage)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	// Run blocks until SIGINT or SIGTERM, then drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
}
