package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/fitroom/internal/fitting"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"

	QualityFast     = "fast"
	QualityBalanced = "balanced"
	QualityHigh     = "high"

	FallbackSideBySide = "side_by_side"
	FallbackOverlay    = "overlay"
)

type TryOnOptions struct {
	Quality        string `json:"quality,omitempty"`
	EnableAnalysis bool   `json:"enable_analysis"`
	FallbackMode   string `json:"fallback_mode,omitempty"`
}

func DefaultTryOnOptions() TryOnOptions {
	return TryOnOptions{
		Quality:        QualityBalanced,
		EnableAnalysis: true,
		FallbackMode:   FallbackSideBySide,
	}
}

// Normalize lowercases the options and fills empty fields with defaults.
func (o TryOnOptions) Normalize() (TryOnOptions, error) {
	def := DefaultTryOnOptions()

	o.Quality = strings.ToLower(strings.TrimSpace(o.Quality))
	switch o.Quality {
	case "":
		o.Quality = def.Quality
	case QualityFast, QualityBalanced, QualityHigh:
	default:
		return o, fmt.Errorf("unsupported quality: %s", o.Quality)
	}

	o.FallbackMode = strings.ToLower(strings.TrimSpace(o.FallbackMode))
	switch o.FallbackMode {
	case "":
		o.FallbackMode = def.FallbackMode
	case FallbackSideBySide, FallbackOverlay:
	default:
		return o, fmt.Errorf("unsupported fallback_mode: %s", o.FallbackMode)
	}

	return o, nil
}

// AICalls is the number of model requests a try-on with these options makes.
func (o TryOnOptions) AICalls() int {
	if o.EnableAnalysis {
		return 3
	}
	return 1
}

type CreateJobRequest struct {
	SourceType string       `json:"source_type"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	PersonKey  string       `json:"person_key"`
	DressKey   string       `json:"dress_key"`
	Options    TryOnOptions `json:"options"`
}

type Job struct {
	ID          string
	UserID      string
	Status      string
	SourceType  string
	WebhookURL  string
	PersonKey   string
	DressKey    string
	Options     TryOnOptions
	ResultKey   string
	Description string
	Parameters  *fitting.Parameters
	Fallback    bool
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobResult is what a finished try-on writes back onto its job.
type JobResult struct {
	ResultKey   string
	Description string
	Parameters  fitting.Parameters
	Fallback    bool
	Width       int
	Height      int
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeObjectStore {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if strings.TrimSpace(r.PersonKey) == "" {
		return errors.New("person_key is required")
	}
	if strings.TrimSpace(r.DressKey) == "" {
		return errors.New("dress_key is required")
	}
	if _, err := r.Options.Normalize(); err != nil {
		return err
	}
	return nil
}
