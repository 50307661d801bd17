package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/fitroom/internal/config"
	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/pipeline"
	"github.com/dunamismax/fitroom/internal/queue"
	"github.com/dunamismax/fitroom/internal/store"
	"github.com/dunamismax/fitroom/internal/tryon"
	"github.com/dunamismax/fitroom/internal/webhook"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	objects         pipeline.ObjectStore
	deleteUploads   bool
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type uploadDeleter interface {
	DeleteObjects(ctx context.Context, objectKeys ...string) error
}

const uploadPrefix = "uploads/"

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	objects pipeline.ObjectStore,
	resultPrefix string,
	synth *tryon.Synthesizer,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if synth == nil {
		return nil, fmt.Errorf("try-on synthesizer is required")
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := newServer(logger, workerCfg, objects, resultPrefix, synth, jobStore, usageStore)
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

// newServer wires everything except the asynq server, so handlers can be
// driven directly.
func newServer(
	logger *log.Logger,
	workerCfg config.WorkerConfig,
	objects pipeline.ObjectStore,
	resultPrefix string,
	synth *tryon.Synthesizer,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) *Server {
	emitter := pipeline.ObjectStoreEmitter{Storage: objects, OutputPrefix: resultPrefix}
	return &Server{
		logger:          logger,
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  pipeline.NewProcessor(pipeline.LocalFileFetcher{}, synth, emitter),
		objectProcessor: pipeline.NewObjectStoreProcessor(objects, resultPrefix, synth),
		objects:         objects,
		deleteUploads:   workerCfg.DeleteUploads,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("fitroom/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTryOn, s.handleTryOn)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTryOn(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseTryOnPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.tryon", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.quality", payload.Options.Quality),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s quality=%s analysis=%t",
		payload.JobID,
		payload.SourceType,
		payload.Options.Quality,
		payload.Options.EnableAnalysis,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		PersonKey:  payload.PersonKey,
		DressKey:   payload.DressKey,
		Options:    payload.Options,
	}

	var out pipeline.Output
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		out, err = s.localProcessor.Process(ctx, request)
	default:
		out, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "try-on failed")
		s.failJob(ctx, payload, err)

		var invalid *pipeline.InvalidImageError
		if errors.As(err, &invalid) || errors.Is(err, pipeline.ErrUnsupportedSourceType) {
			return fmt.Errorf("run try-on: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run try-on: %w", err)
	}

	s.logger.Printf("Processed job_id=%s result_key=%s fallback=%t", payload.JobID, out.Path, out.Fallback)

	job := s.completeJob(ctx, payload.JobID, out)
	s.recordUsage(ctx, payload.JobID, out, time.Since(startedAt))
	s.deleteJobUploads(ctx, payload)
	if out.Fallback {
		s.metrics.fallbacksTotal.Inc()
	}

	s.dispatchWebhook(ctx, payload, webhook.EventTryOnCompleted, webhook.TryOnEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusSucceeded,
		ResultKey:  out.Path,
		Fallback:   out.Fallback,
		Parameters: job.Parameters,
		OccurredAt: time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) completeJob(ctx context.Context, jobID string, out pipeline.Output) domain.Job {
	params := out.Parameters
	job := domain.Job{ID: jobID, Status: domain.JobStatusSucceeded, Parameters: &params}
	if s.jobStore == nil {
		return job
	}

	updated, err := s.jobStore.Complete(ctx, jobID, domain.JobResult{
		ResultKey:   out.Path,
		Description: out.Description,
		Parameters:  out.Parameters,
		Fallback:    out.Fallback,
		Width:       out.Width,
		Height:      out.Height,
	})
	if err != nil {
		s.logger.Printf("job completion update failed job_id=%s err=%v", jobID, err)
		return job
	}
	return updated
}

func (s *Server) failJob(ctx context.Context, payload queue.TryOnPayload, cause error) {
	if s.jobStore != nil {
		if _, err := s.jobStore.Fail(ctx, payload.JobID, cause.Error()); err != nil {
			s.logger.Printf("job failure update failed job_id=%s err=%v", payload.JobID, err)
		}
	}

	s.dispatchWebhook(ctx, payload, webhook.EventTryOnFailed, webhook.TryOnEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusFailed,
		Error:      cause.Error(),
		OccurredAt: time.Now().UTC(),
	})
}

// dispatchWebhook never fails the task: re-running a finished try-on to
// redeliver a notification would repeat its AI calls.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TryOnPayload, event string, body webhook.TryOnEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailuresTotal.Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

// deleteJobUploads removes photos the API stored for this job. Keys outside
// the upload prefix belong to the caller and are left alone.
func (s *Server) deleteJobUploads(ctx context.Context, payload queue.TryOnPayload) {
	if !s.deleteUploads || payload.SourceType != domain.SourceTypeObjectStore {
		return
	}
	deleter, ok := s.objects.(uploadDeleter)
	if !ok {
		return
	}

	var keys []string
	for _, key := range []string{payload.PersonKey, payload.DressKey} {
		if strings.HasPrefix(key, uploadPrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := deleter.DeleteObjects(ctx, keys...); err != nil {
		s.logger.Printf("upload cleanup failed job_id=%s err=%v", payload.JobID, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, jobID string, out pipeline.Output, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: out.Pixels,
		ComputeTimeMS:   computeTimeMS,
		AICalls:         out.AICalls,
		Fallback:        out.Fallback,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(out.Pixels))
	s.metrics.aiCallsTotal.Add(float64(out.AICalls))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
