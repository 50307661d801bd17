package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/fitroom/internal/config"
	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/pipeline"
	"github.com/dunamismax/fitroom/internal/queue"
	"github.com/dunamismax/fitroom/internal/store"
	"github.com/dunamismax/fitroom/internal/stylist"
	"github.com/dunamismax/fitroom/internal/tryon"
	"github.com/dunamismax/fitroom/internal/webhook"
)

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeLocalFile,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-1", pipeline.Output{Pixels: 500, AICalls: 3, Fallback: true}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usageStore.log.UserID)
	}
	if usageStore.log.PixelsProcessed != 500 || usageStore.log.AICalls != 3 || !usageStore.log.Fallback {
		t.Fatalf("unexpected usage log %+v", usageStore.log)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageClampsComputeTime(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", pipeline.Output{}, 0)

	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usageStore.log.UserID)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestHandleTryOnCompletesJob(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	objects.put("uploads/job_7/person_image", testPNG(t, 200, 300))
	objects.put("uploads/job_7/dress_image", testPNG(t, 100, 150))

	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, "job_7")

	synth := tryon.New(stylist.New(cannedModel{text: "A petite frame in a maxi gown with a halter neckline."}), nil)
	s := newServer(log.New(io.Discard, "", 0), config.WorkerConfig{MaxActiveJobs: 1, DeleteUploads: true}, objects, "results", synth, jobStore, jobStore)
	hooks := &captureWebhooks{}
	s.webhookClient = hooks

	task := tryOnTask(t, "job_7", domain.SourceTypeObjectStore)
	if err := s.handleTryOn(ctx, task); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, _, _ := jobStore.Get(ctx, "job_7")
	if job.Status != domain.JobStatusSucceeded || job.ResultKey != "results/job_7/result.png" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Parameters == nil || job.Parameters.BodyType != "slim" || job.Parameters.DressStyle != "long" {
		t.Fatalf("unexpected parameters %+v", job.Parameters)
	}
	if _, ok := objects.get("results/job_7/result.png"); !ok {
		t.Fatal("expected result object to be written")
	}
	if len(jobStore.Usage()) != 1 {
		t.Fatalf("expected one usage log, got %d", len(jobStore.Usage()))
	}
	if hooks.event != webhook.EventTryOnCompleted {
		t.Fatalf("expected completed webhook, got %q", hooks.event)
	}
	if _, ok := objects.get("uploads/job_7/person_image"); ok {
		t.Fatal("expected uploads to be deleted after success")
	}
}

func TestHandleTryOnInvalidUploadSkipsRetry(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	objects.put("uploads/job_8/person_image", []byte("not an image"))
	objects.put("uploads/job_8/dress_image", testPNG(t, 100, 150))

	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, "job_8")

	s := newServer(log.New(io.Discard, "", 0), config.WorkerConfig{}, objects, "", tryon.New(nil, nil), jobStore, nil)
	hooks := &captureWebhooks{}
	s.webhookClient = hooks

	err := s.handleTryOn(ctx, tryOnTask(t, "job_8", domain.SourceTypeObjectStore))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobStore.Get(ctx, "job_8")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got %+v", job)
	}
	if hooks.event != webhook.EventTryOnFailed {
		t.Fatalf("expected failed webhook, got %q", hooks.event)
	}
}

func TestHandleTryOnMalformedPayload(t *testing.T) {
	s := newServer(log.New(io.Discard, "", 0), config.WorkerConfig{}, newMemoryObjects(), "", tryon.New(nil, nil), nil, nil)
	err := s.handleTryOn(context.Background(), asynq.NewTask(queue.TypeTryOn, []byte("nope")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func seedJob(t *testing.T, jobStore *store.MemoryJobStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         id,
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeObjectStore,
		WebhookURL: "https://hooks.example.com/tryon",
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func tryOnTask(t *testing.T, jobID, sourceType string) *asynq.Task {
	t.Helper()
	task, err := queue.NewTryOnTask(queue.TryOnPayload{
		JobID:       jobID,
		SourceType:  sourceType,
		WebhookURL:  "https://hooks.example.com/tryon",
		PersonKey:   pipeline.UploadKey(jobID, "person_image"),
		DressKey:    pipeline.UploadKey(jobID, "dress_image"),
		Options:     domain.DefaultTryOnOptions(),
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 120, 80, 200, 255
	}
	img.Set(0, 0, color.NRGBA{A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type cannedModel struct {
	text string
}

func (m cannedModel) Generate(context.Context, string, ...stylist.InlineImage) (string, error) {
	return m.text, nil
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (m *memoryObjects) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memoryObjects) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m.get(key)
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (m *memoryObjects) DeleteObjects(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, _ string) error {
	m.put(key, data)
	return nil
}

type captureWebhooks struct {
	event   string
	payload any
}

func (c *captureWebhooks) Send(_ context.Context, _ string, event string, payload any) error {
	c.event = event
	c.payload = payload
	return nil
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}
