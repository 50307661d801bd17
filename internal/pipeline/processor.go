package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/fitting"
	"github.com/dunamismax/fitroom/internal/imageproc"
	"github.com/dunamismax/fitroom/internal/tryon"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// InvalidImageError carries the validation message for a rejected upload.
type InvalidImageError struct {
	Field  string
	Reason string
}

func (e *InvalidImageError) Error() string {
	return e.Field + ": " + e.Reason
}

type Request struct {
	JobID      string
	SourceType string
	PersonKey  string
	DressKey   string
	Options    domain.TryOnOptions
}

type Output struct {
	Path        string
	Data        []byte
	Width       int
	Height      int
	Description string
	Parameters  fitting.Parameters
	Fallback    bool
	Analysis    string
	Suggestions string
	AICalls     int
	Pixels      int64
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, key string) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte) (string, error)
}

type Processor struct {
	fetcher Fetcher
	synth   *tryon.Synthesizer
	emitter Emitter
}

func NewProcessor(fetcher Fetcher, synth *tryon.Synthesizer, emitter Emitter) *Processor {
	return &Processor{fetcher: fetcher, synth: synth, emitter: emitter}
}

func NewLocalProcessor(outputDir string, synth *tryon.Synthesizer) *Processor {
	return NewProcessor(LocalFileFetcher{}, synth, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Output, error) {
	personData, err := p.fetcher.Fetch(ctx, req, req.PersonKey)
	if err != nil {
		return Output{}, fmt.Errorf("fetch stage person: %w", err)
	}
	dressData, err := p.fetcher.Fetch(ctx, req, req.DressKey)
	if err != nil {
		return Output{}, fmt.Errorf("fetch stage dress: %w", err)
	}

	return p.ProcessBytes(ctx, req, personData, dressData)
}

// ProcessBytes runs validation, the try-on and the emit stage on uploads
// already in memory.
func (p *Processor) ProcessBytes(ctx context.Context, req Request, personData, dressData []byte) (Output, error) {
	if ok, reason := imageproc.Validate(personData); !ok {
		return Output{}, &InvalidImageError{Field: "person_image", Reason: reason}
	}
	if ok, reason := imageproc.Validate(dressData); !ok {
		return Output{}, &InvalidImageError{Field: "dress_image", Reason: reason}
	}

	person, _, err := imageproc.Decode(personData)
	if err != nil {
		return Output{}, &InvalidImageError{Field: "person_image", Reason: err.Error()}
	}
	dress, _, err := imageproc.Decode(dressData)
	if err != nil {
		return Output{}, &InvalidImageError{Field: "dress_image", Reason: err.Error()}
	}

	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	res, err := p.synth.Run(ctx, person, dress, req.Options)
	if err != nil {
		return Output{}, fmt.Errorf("try-on stage: %w", err)
	}

	encoded, err := imageproc.EncodePNG(res.Image)
	if err != nil {
		return Output{}, fmt.Errorf("encode stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, req, encoded)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage: %w", err)
	}

	bounds := res.Image.Bounds()
	return Output{
		Path:        written,
		Data:        encoded,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Description: res.Description,
		Parameters:  res.Parameters,
		Fallback:    res.Fallback,
		Analysis:    res.Analysis,
		Suggestions: res.Suggestions,
		AICalls:     res.AICalls,
		Pixels:      int64(person.Bounds().Dx())*int64(person.Bounds().Dy()) + int64(dress.Bounds().Dx())*int64(dress.Bounds().Dy()),
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request, key string) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", key, err)
	}
	return data, nil
}

// LocalFileEmitter writes try_on_result_<unix>.png into OutputDir, or into a
// per-job directory when the request has a job id.
type LocalFileEmitter struct {
	OutputDir string
	Now       func() time.Time
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, data []byte) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	dir := e.OutputDir
	if strings.TrimSpace(req.JobID) != "" {
		dir = filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	fullPath := filepath.Join(dir, fmt.Sprintf("try_on_result_%d.png", now().Unix()))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
