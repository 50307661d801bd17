package compose

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/fitroom/internal/fitting"
	"github.com/dunamismax/fitroom/internal/imageproc"
)

const (
	vibrantSaturation = 1.1
	softBlurSigma     = 0.5
	finishContrast    = 1.05
)

var ErrEmptyInput = errors.New("compose: empty input image")

// Compositor pastes a dress onto a person photo. The zero value resamples
// with Lanczos.
type Compositor struct {
	Filter imaging.ResampleFilter
}

func (c Compositor) filter() imaging.ResampleFilter {
	if c.Filter.Kernel == nil {
		return imaging.Lanczos
	}
	return c.Filter
}

// Compose resizes dress per the layout, blends it onto person and applies
// the finishing filters selected by text. The result has the person's size
// and no transparency.
func (c Compositor) Compose(person, dress image.Image, params fitting.Parameters, text string) (*image.NRGBA, error) {
	if person.Bounds().Empty() || dress.Bounds().Empty() {
		return nil, ErrEmptyInput
	}

	base := imageproc.ToRGB(person)
	rect := PlanLayout(base.Bounds().Size(), params)

	overlay := imaging.Resize(dress, rect.Dx(), rect.Dy(), c.filter())
	applyAlphaTiers(overlay)

	out := imaging.Overlay(base, overlay, rect.Min, 1.0)

	if fitting.ContainsAny(text, "vibrant", "bright") {
		out = imageproc.Saturation(out, vibrantSaturation)
	}
	if fitting.ContainsAny(text, "soft", "flowing") {
		out = imaging.Blur(out, softBlurSigma)
	}
	out = imageproc.Contrast(out, finishContrast)

	return imageproc.ToRGB(out), nil
}

func applyAlphaTiers(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = AlphaTier(img.Pix[i])
	}
}

// AlphaTier maps a source alpha to the blend alpha: mostly opaque pixels
// keep 85%, the rest keep 70%.
func AlphaTier(a uint8) uint8 {
	scale := 0.7
	if float64(a)/255 > 0.5 {
		scale = 0.85
	}
	return uint8(math.Round(float64(a) * scale))
}
