package stylist

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/dunamismax/fitroom/internal/imageproc"
)

const mimePNG = "image/png"

const (
	describePrompt = `You are an expert fashion stylist and virtual try-on specialist.
Analyze these two images:
1. A person in the first image
2. A dress/clothing item in the second image

Provide a detailed description of how the person would look wearing the dress.
Include specific details about:
- How the dress would fit on the person's body
- The color combinations and how they complement the person
- The style and how it matches the person's appearance
- The overall look and aesthetic

Be very detailed and specific about the visual result.`

	compatibilityPrompt = `Analyze the compatibility between this person and this dress/clothing item.
Consider:
1. Color coordination
2. Style compatibility
3. Fit predictions
4. Overall aesthetic appeal
5. Suggestions for improvement

Provide a detailed analysis with a compatibility score (1-10).`

	suggestionsPrompt = `Based on this person and dress combination, provide styling suggestions:
1. Recommended accessories
2. Shoe suggestions
3. Hair and makeup recommendations
4. Color coordination tips
5. Occasion suitability

Be specific and practical in your suggestions.`
)

var ErrEmptyResponse = errors.New("model returned no text")

// Reached reports whether a call that returned err was sent to the model.
// Only a missing API key stops a request before it goes out.
func Reached(err error) bool {
	return !errors.Is(err, ErrMissingAPIKey)
}

type InlineImage struct {
	MIMEType string
	Data     []byte
}

// Model returns text for a prompt followed by inline images.
type Model interface {
	Generate(ctx context.Context, prompt string, images ...InlineImage) (string, error)
}

type Stylist struct {
	model Model
}

func New(model Model) *Stylist {
	return &Stylist{model: model}
}

// Describe asks for a description of the person wearing the dress.
func (s *Stylist) Describe(ctx context.Context, person, dress image.Image) (string, error) {
	return s.ask(ctx, describePrompt, person, dress)
}

// AnalyzeCompatibility returns displayable text even on failure; the error
// only tells the caller the text is a placeholder.
func (s *Stylist) AnalyzeCompatibility(ctx context.Context, person, dress image.Image) (string, error) {
	text, err := s.ask(ctx, compatibilityPrompt, person, dress)
	if err != nil {
		return "Analysis unavailable: " + err.Error(), err
	}
	return text, nil
}

func (s *Stylist) StylingSuggestions(ctx context.Context, person, dress image.Image) (string, error) {
	text, err := s.ask(ctx, suggestionsPrompt, person, dress)
	if err != nil {
		return "Suggestions unavailable: " + err.Error(), err
	}
	return text, nil
}

func (s *Stylist) ask(ctx context.Context, prompt string, person, dress image.Image) (string, error) {
	if s == nil || s.model == nil {
		return "", ErrMissingAPIKey
	}

	personData, err := imageproc.EncodePNG(person)
	if err != nil {
		return "", fmt.Errorf("encode person image: %w", err)
	}
	dressData, err := imageproc.EncodePNG(dress)
	if err != nil {
		return "", fmt.Errorf("encode dress image: %w", err)
	}

	text, err := s.model.Generate(ctx, prompt,
		InlineImage{MIMEType: mimePNG, Data: personData},
		InlineImage{MIMEType: mimePNG, Data: dressData},
	)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
