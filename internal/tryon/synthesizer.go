package tryon

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/fitroom/internal/compose"
	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/fitting"
	"github.com/dunamismax/fitroom/internal/imageproc"
	"github.com/dunamismax/fitroom/internal/stylist"
)

var ErrEmptyInput = errors.New("try-on input image is empty")

type Result struct {
	Image       *image.NRGBA
	Description string
	Parameters  fitting.Parameters
	Fallback    bool
	Analysis    string
	Suggestions string
	AICalls     int
}

type Synthesizer struct {
	stylist *stylist.Stylist
	logger  *log.Logger
	tracer  trace.Tracer
}

func New(s *stylist.Stylist, logger *log.Logger) *Synthesizer {
	return &Synthesizer{
		stylist: s,
		logger:  logger,
		tracer:  otel.Tracer("fitroom/tryon"),
	}
}

// Run preprocesses both photos and produces the composite. Once the inputs
// are usable it never fails: AI or compositing problems yield the fallback
// composite and placeholder text instead.
func (s *Synthesizer) Run(ctx context.Context, person, dress image.Image, opts domain.TryOnOptions) (Result, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return Result{}, err
	}
	if person == nil || dress == nil || person.Bounds().Empty() || dress.Bounds().Empty() {
		return Result{}, ErrEmptyInput
	}

	ctx, span := s.tracer.Start(ctx, "tryon.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tryon.quality", opts.Quality),
		attribute.Bool("tryon.analysis", opts.EnableAnalysis),
	)

	pp := imageproc.PreprocessPerson(person)
	pd := imageproc.PreprocessDress(dress)

	result := Result{Parameters: fitting.Defaults()}

	description, describeErr := s.stylist.Describe(ctx, pp, pd)
	result.AICalls += modelCalls(describeErr)
	if describeErr != nil {
		s.logf("description failed err=%v", describeErr)
		result.Description = "Description unavailable: " + describeErr.Error()
	} else {
		result.Description = description
	}

	classifyText := description
	if opts.EnableAnalysis {
		analysis, analysisErr := s.stylist.AnalyzeCompatibility(ctx, pp, pd)
		result.AICalls += modelCalls(analysisErr)
		result.Analysis = analysis
		if analysisErr == nil && describeErr == nil {
			classifyText = strings.Join([]string{description, analysis}, "\n")
		}
	}

	if describeErr == nil {
		result.Parameters = fitting.Classify(classifyText)
		img, composeErr := s.composite(pp, pd, result.Parameters, classifyText, opts.Quality)
		if composeErr == nil {
			result.Image = img
		} else {
			s.logf("composite failed err=%v", composeErr)
		}
	}

	if result.Image == nil {
		mode, err := compose.ParseFallbackMode(opts.FallbackMode)
		if err != nil {
			mode = compose.FallbackSideBySide
		}
		result.Fallback = true
		result.Image = mode.Render(pp, pd)
	}

	if opts.EnableAnalysis {
		suggestions, suggestErr := s.stylist.StylingSuggestions(ctx, pp, pd)
		result.Suggestions = suggestions
		result.AICalls += modelCalls(suggestErr)
	}

	span.SetAttributes(
		attribute.Bool("tryon.fallback", result.Fallback),
		attribute.String("tryon.body_type", string(result.Parameters.BodyType)),
		attribute.String("tryon.dress_style", string(result.Parameters.DressStyle)),
	)
	return result, nil
}

func (s *Synthesizer) composite(person, dress image.Image, params fitting.Parameters, text, quality string) (img *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compose panicked: %v", r)
		}
	}()
	return compose.Compositor{Filter: ResampleFilter(quality)}.Compose(person, dress, params, text)
}

// modelCalls counts a stylist request toward usage only if it was sent.
func modelCalls(err error) int {
	if stylist.Reached(err) {
		return 1
	}
	return 0
}

// ResampleFilter maps an output quality to the filter used to resize the
// dress.
func ResampleFilter(quality string) imaging.ResampleFilter {
	switch quality {
	case domain.QualityFast:
		return imaging.Linear
	case domain.QualityHigh:
		return imaging.Lanczos
	default:
		return imaging.CatmullRom
	}
}

func (s *Synthesizer) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
