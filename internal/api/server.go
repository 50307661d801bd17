package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/fitting"
	"github.com/dunamismax/fitroom/internal/id"
	"github.com/dunamismax/fitroom/internal/imageproc"
	"github.com/dunamismax/fitroom/internal/pipeline"
	"github.com/dunamismax/fitroom/internal/queue"
	"github.com/dunamismax/fitroom/internal/storage"
	"github.com/dunamismax/fitroom/internal/store"
	"github.com/dunamismax/fitroom/internal/tryon"
)

const (
	UserIDHeader = "X-User-ID"

	fieldPerson = "person_image"
	fieldDress  = "dress_image"

	// Two images plus form fields.
	maxMultipartBytes = 2*imageproc.MaxUploadBytes + 1<<20
)

type Server struct {
	logger       *log.Logger
	processor    *pipeline.Processor
	queueClient  Enqueuer
	jobStore     store.JobStore
	objects      ObjectStorage
	resultPrefix string
	defaults     domain.TryOnOptions
	presignTTL   time.Duration
	rateLimiter  RateLimiter
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

type Enqueuer interface {
	EnqueueTryOn(ctx context.Context, payload queue.TryOnPayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	pipeline.ObjectStore
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Implemented by storage.Client; the file store serves results through the API.
type uploadPresigner interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type uploadDeleter interface {
	DeleteObjects(ctx context.Context, objectKeys ...string) error
}

type downloadPresigner interface {
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

type Dependencies struct {
	Synthesizer  *tryon.Synthesizer
	Queue        Enqueuer
	Jobs         store.JobStore
	Objects      ObjectStorage
	ResultPrefix string
	Defaults     domain.TryOnOptions
	PresignTTL   time.Duration
	RateLimiter  RateLimiter
}

func NewServer(logger *log.Logger, deps Dependencies) (*Server, error) {
	if deps.Synthesizer == nil {
		return nil, errors.New("try-on synthesizer is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("object storage is required")
	}
	if deps.Jobs == nil {
		deps.Jobs = store.NewMemoryJobStore()
	}
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = 15 * time.Minute
	}
	defaults, err := deps.Defaults.Normalize()
	if err != nil {
		return nil, fmt.Errorf("default try-on options: %w", err)
	}

	s := &Server{
		logger:       logger,
		processor:    pipeline.NewObjectStoreProcessor(deps.Objects, deps.ResultPrefix, deps.Synthesizer),
		queueClient:  deps.Queue,
		jobStore:     deps.Jobs,
		objects:      deps.Objects,
		resultPrefix: deps.ResultPrefix,
		defaults:     defaults,
		presignTTL:   deps.PresignTTL,
		rateLimiter:  deps.RateLimiter,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("fitroom/api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/tryon", s.handleTryOn)
	s.mux.HandleFunc("GET /v1/results/{id}", s.handleResult)
	s.mux.HandleFunc("POST /v1/uploads", s.handleCreateUploads)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTryOn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}

	opts, err := s.formOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.allow(w, r, opts.AICalls()) {
		return
	}

	personData, err := readUpload(r.MultipartForm, fieldPerson)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dressData, err := readUpload(r.MultipartForm, fieldDress)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.uploadBytes.WithLabelValues(fieldPerson).Observe(float64(len(personData)))
	s.metrics.uploadBytes.WithLabelValues(fieldDress).Observe(float64(len(dressData)))

	resultID := id.New("res")
	out, err := s.processor.ProcessBytes(r.Context(), pipeline.Request{
		JobID:      resultID,
		SourceType: domain.SourceTypeObjectStore,
		Options:    opts,
	}, personData, dressData)
	if err != nil {
		var invalid *pipeline.InvalidImageError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusUnprocessableEntity, invalid.Error())
			return
		}
		s.logger.Printf("try-on failed result_id=%s err=%v", resultID, err)
		writeError(w, http.StatusInternalServerError, "try-on failed")
		return
	}

	s.metrics.tryOnTotal.WithLabelValues(strconv.FormatBool(out.Fallback)).Inc()
	s.logger.Printf("try-on done result_id=%s fallback=%t size=%dx%d", resultID, out.Fallback, out.Width, out.Height)

	resp := tryOnResponse{
		ResultID:    resultID,
		ImageBase64: base64.StdEncoding.EncodeToString(out.Data),
		Width:       out.Width,
		Height:      out.Height,
		Description: out.Description,
		Parameters:  out.Parameters,
		Fallback:    out.Fallback,
		Analysis:    out.Analysis,
		Suggestions: out.Suggestions,
		DownloadURL: s.resultURL(r.Context(), resultID, out.Path),
	}
	if preview, err := previewBase64(out.Data); err == nil {
		resp.PreviewBase64 = preview
	} else {
		s.logger.Printf("preview render failed result_id=%s err=%v", resultID, err)
	}
	writeJSON(w, http.StatusOK, resp)
}

type tryOnResponse struct {
	ResultID      string             `json:"result_id"`
	ImageBase64   string             `json:"image_base64"`
	PreviewBase64 string             `json:"preview_base64,omitempty"`
	Width         int                `json:"width"`
	Height        int                `json:"height"`
	Description   string             `json:"description"`
	Parameters    fitting.Parameters `json:"parameters"`
	Fallback      bool               `json:"fallback"`
	Analysis      string             `json:"analysis,omitempty"`
	Suggestions   string             `json:"suggestions,omitempty"`
	DownloadURL   string             `json:"download_url"`
}

// previewBase64 narrows the result for inline display.
func previewBase64(data []byte) (string, error) {
	img, _, err := imageproc.Decode(data)
	if err != nil {
		return "", err
	}
	return imageproc.ToBase64(imageproc.ResizeForDisplay(img, imageproc.DisplayMaxWidth))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	resultID := strings.TrimSpace(r.PathValue("id"))
	if resultID == "" {
		writeError(w, http.StatusBadRequest, "result id is required")
		return
	}

	data, err := s.objects.ReadObject(r.Context(), pipeline.ResultKey(s.resultPrefix, resultID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		s.logger.Printf("read result failed result_id=%s err=%v", resultID, err)
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(resultID)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCreateUploads(w http.ResponseWriter, r *http.Request) {
	presigner, ok := s.objects.(uploadPresigner)
	if !ok {
		writeError(w, http.StatusNotImplemented, "storage backend does not issue upload URLs")
		return
	}
	if !s.allow(w, r, 1) {
		return
	}

	uploadID := id.New("upl")
	resp := map[string]any{
		"upload_id":          uploadID,
		"expires_in_seconds": int(s.presignTTL.Seconds()),
	}
	for _, field := range []string{fieldPerson, fieldDress} {
		key := pipeline.UploadKey(uploadID, field)
		url, err := presigner.PresignedPutURL(r.Context(), key, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign upload failed upload_id=%s field=%s err=%v", uploadID, field, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		resp[field] = map[string]string{"object_key": key, "presigned_put_url": url}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue is unavailable")
		return
	}

	jobID := id.New("job")
	var (
		req    domain.CreateJobRequest
		stored []string
		ok     bool
	)
	if isMultipart(r) {
		req, stored, ok = s.acceptJobUploads(w, r, jobID)
	} else {
		req, ok = s.acceptJobJSON(w, r)
	}
	if !ok {
		return
	}

	// Photos written for this request go away unless the task is queued.
	enqueued := false
	defer func() {
		if !enqueued {
			s.discardUploads(r.Context(), jobID, stored)
		}
	}()

	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	job := domain.Job{
		ID:         jobID,
		UserID:     userID(r),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		PersonKey:  strings.TrimSpace(req.PersonKey),
		DressKey:   strings.TrimSpace(req.DressKey),
		Options:    req.Options,
	}
	for _, key := range []string{job.PersonKey, job.DressKey} {
		if err := s.verifySourceExists(r.Context(), sourceType, key); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}

	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskInfo, err := s.queueClient.EnqueueTryOn(r.Context(), queue.TryOnPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		PersonKey:   job.PersonKey,
		DressKey:    job.DressKey,
		Options:     job.Options,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, failErr := s.jobStore.Fail(r.Context(), job.ID, "enqueue failed"); failErr != nil {
			s.logger.Printf("job failure update failed job_id=%s err=%v", job.ID, failErr)
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	enqueued = true
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"status_url":  "/v1/jobs/" + job.ID,
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) acceptJobJSON(w http.ResponseWriter, r *http.Request) (domain.CreateJobRequest, bool) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusFor(err), err.Error())
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	opts, err := s.mergeDefaults(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	req.Options = opts
	return req, s.allow(w, r, opts.AICalls())
}

// acceptJobUploads charges the caller, validates both images and only then
// writes them to their upload keys. It returns the keys it wrote.
func (s *Server) acceptJobUploads(w http.ResponseWriter, r *http.Request, jobID string) (domain.CreateJobRequest, []string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return domain.CreateJobRequest{}, nil, false
	}
	opts, err := s.formOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.CreateJobRequest{}, nil, false
	}
	if !s.allow(w, r, opts.AICalls()) {
		return domain.CreateJobRequest{}, nil, false
	}

	fields := []string{fieldPerson, fieldDress}
	uploads := make([][]byte, len(fields))
	for i, field := range fields {
		data, err := readUpload(r.MultipartForm, field)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return domain.CreateJobRequest{}, nil, false
		}
		s.metrics.uploadBytes.WithLabelValues(field).Observe(float64(len(data)))
		if ok, reason := imageproc.Validate(data); !ok {
			invalid := &pipeline.InvalidImageError{Field: field, Reason: reason}
			writeError(w, http.StatusUnprocessableEntity, invalid.Error())
			return domain.CreateJobRequest{}, nil, false
		}
		uploads[i] = data
	}

	req := domain.CreateJobRequest{
		SourceType: domain.SourceTypeObjectStore,
		WebhookURL: r.FormValue("webhook_url"),
		PersonKey:  pipeline.UploadKey(jobID, fieldPerson),
		DressKey:   pipeline.UploadKey(jobID, fieldDress),
		Options:    opts,
	}
	stored := make([]string, 0, len(fields))
	for i, key := range []string{req.PersonKey, req.DressKey} {
		if err := s.objects.WriteObject(r.Context(), key, uploads[i], http.DetectContentType(uploads[i])); err != nil {
			s.logger.Printf("store upload failed job_id=%s field=%s err=%v", jobID, fields[i], err)
			s.discardUploads(r.Context(), jobID, stored)
			writeError(w, http.StatusInternalServerError, "failed to store "+fields[i])
			return req, nil, false
		}
		stored = append(stored, key)
	}
	return req, stored, true
}

// discardUploads removes photos stored for a job that never reached the
// queue. The request context may already be done, so deletion ignores its
// cancellation.
func (s *Server) discardUploads(ctx context.Context, jobID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	deleter, ok := s.objects.(uploadDeleter)
	if !ok {
		return
	}
	if err := deleter.DeleteObjects(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Printf("discard uploads failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		SourceType:  job.SourceType,
		Options:     job.Options,
		Description: job.Description,
		Parameters:  job.Parameters,
		Fallback:    job.Fallback,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded && job.ResultKey != "" {
		resp.ResultURL = s.resultURL(r.Context(), job.ID, job.ResultKey)
	}
	writeJSON(w, http.StatusOK, resp)
}

type jobResponse struct {
	JobID       string              `json:"job_id"`
	Status      string              `json:"status"`
	SourceType  string              `json:"source_type"`
	Options     domain.TryOnOptions `json:"options"`
	Description string              `json:"description,omitempty"`
	Parameters  *fitting.Parameters `json:"parameters,omitempty"`
	Fallback    bool                `json:"fallback"`
	Error       string              `json:"error,omitempty"`
	ResultURL   string              `json:"result_url,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// resultURL prefers a presigned link and falls back to the API download
// route.
func (s *Server) resultURL(ctx context.Context, resultID, objectKey string) string {
	if presigner, ok := s.objects.(downloadPresigner); ok {
		url, err := presigner.PresignedGetURL(ctx, objectKey, downloadName(resultID), s.presignTTL)
		if err == nil {
			return url
		}
		s.logger.Printf("presign download failed result_id=%s err=%v", resultID, err)
	}
	return "/v1/results/" + resultID
}

func (s *Server) verifySourceExists(ctx context.Context, sourceType, key string) error {
	switch sourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", key)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.objects.ObjectExists(ctx, key)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", key)
		}
		return nil
	}
}

// formOptions reads try-on options from form fields, falling back to the
// server defaults for anything not sent.
func (s *Server) formOptions(r *http.Request) (domain.TryOnOptions, error) {
	opts := domain.TryOnOptions{
		Quality:        r.FormValue("quality"),
		FallbackMode:   r.FormValue("fallback_mode"),
		EnableAnalysis: s.defaults.EnableAnalysis,
	}
	if raw := strings.TrimSpace(r.FormValue("enable_analysis")); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid enable_analysis: %s", raw)
		}
		opts.EnableAnalysis = enabled
	}
	return s.mergeDefaults(opts)
}

func (s *Server) mergeDefaults(opts domain.TryOnOptions) (domain.TryOnOptions, error) {
	if strings.TrimSpace(opts.Quality) == "" {
		opts.Quality = s.defaults.Quality
	}
	if strings.TrimSpace(opts.FallbackMode) == "" {
		opts.FallbackMode = s.defaults.FallbackMode
	}
	return opts.Normalize()
}

func readUpload(form *multipart.Form, field string) ([]byte, error) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, fmt.Errorf("%s is required", field)
	}
	f, err := form.File[field][0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	// One byte past the limit lets validation report the oversize upload.
	data, err := io.ReadAll(io.LimitReader(f, imageproc.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return data, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

func userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(UserIDHeader)); v != "" {
		return v
	}
	return "anonymous"
}

func downloadName(resultID string) string {
	return "virtual_try_on_" + resultID + ".png"
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{err: err}
}

func statusFor(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return badRequest(fmt.Errorf("invalid JSON body: %w", err))
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return badRequest(errors.New("invalid JSON body: multiple JSON values are not allowed"))
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
