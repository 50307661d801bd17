package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/tryon"
)

const (
	SourceTypeObjectStore = domain.SourceTypeObjectStore

	defaultResultPrefix = "results"
	resultContentType   = "image/png"
)

type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func NewObjectStoreProcessor(store ObjectStore, resultPrefix string, synth *tryon.Synthesizer) *Processor {
	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		synth,
		ObjectStoreEmitter{Storage: store, OutputPrefix: resultPrefix},
	)
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, key)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, data []byte) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}
	if strings.TrimSpace(req.JobID) == "" {
		return "", errors.New("job_id is required")
	}

	objectKey := ResultKey(e.OutputPrefix, req.JobID)
	if err := e.Storage.WriteObject(ctx, objectKey, data, resultContentType); err != nil {
		return "", err
	}
	return objectKey, nil
}

// ResultKey is the object key of the composite for a job or result id.
func ResultKey(prefix, id string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultResultPrefix
	}
	return path.Join(prefix, sanitizePathToken(id), "result.png")
}

// UploadKey is where the API stores an uploaded photo for a job.
func UploadKey(jobID, field string) string {
	return path.Join("uploads", sanitizePathToken(jobID), sanitizePathToken(field))
}
