package compose

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dunamismax/fitroom/internal/imageproc"
)

type FallbackMode string

const (
	FallbackSideBySide FallbackMode = "side_by_side"
	FallbackOverlay    FallbackMode = "overlay"
)

const (
	sideBySideGap      = 40
	sideBySideMargin   = 20
	sideBySideBand     = 100
	overlayMinWidth    = 600
	overlayBand        = 200
	overlayThumbWidth  = 150
	overlayThumbHeight = 200
	overlayThumbInset  = 20

	SideBySideCaption = "Virtual Try-On Preview"
	OverlayCaption    = "Dress Preview"
)

var (
	sideBySideBackground = color.NRGBA{R: 240, G: 240, B: 240, A: 255}
	overlayBackground    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	captionColor         = color.NRGBA{R: 60, G: 60, B: 60, A: 255}
)

func ParseFallbackMode(raw string) (FallbackMode, error) {
	switch FallbackMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FallbackSideBySide:
		return FallbackSideBySide, nil
	case FallbackOverlay:
		return FallbackOverlay, nil
	default:
		return "", fmt.Errorf("unsupported fallback mode: %q", raw)
	}
}

// Render builds the fallback presentation for the mode. Unknown modes render
// side by side.
func (m FallbackMode) Render(person, dress image.Image) *image.NRGBA {
	if m == FallbackOverlay {
		return Overlay(person, dress)
	}
	return SideBySide(person, dress)
}

// SideBySide places both images on a light gray canvas, vertically centered,
// with a caption band underneath.
func SideBySide(person, dress image.Image) *image.NRGBA {
	pw, ph := person.Bounds().Dx(), person.Bounds().Dy()
	dw, dh := dress.Bounds().Dx(), dress.Bounds().Dy()
	maxH := max(ph, dh)

	width := pw + dw + sideBySideGap
	canvas := imaging.New(width, maxH+sideBySideBand, sideBySideBackground)
	canvas = imaging.Paste(canvas, imageproc.ToRGB(person), image.Pt(sideBySideMargin, (maxH-ph)/2))
	canvas = imaging.Paste(canvas, imageproc.ToRGB(dress), image.Pt(pw+sideBySideGap, (maxH-dh)/2))

	drawCaption(canvas, SideBySideCaption, image.Rect(0, maxH, width, maxH+sideBySideBand))
	return canvas
}

// Overlay keeps the person photo at full size and shows a dress thumbnail in
// the top right corner.
func Overlay(person, dress image.Image) *image.NRGBA {
	pw, ph := person.Bounds().Dx(), person.Bounds().Dy()

	width := max(pw, overlayMinWidth)
	canvas := imaging.New(width, ph+overlayBand, overlayBackground)
	canvas = imaging.Paste(canvas, imageproc.ToRGB(person), image.Pt((width-pw)/2, 0))

	thumb := imaging.Resize(imageproc.ToRGB(dress), overlayThumbWidth, overlayThumbHeight, imaging.Lanczos)
	canvas = imaging.Paste(canvas, thumb, image.Pt(width-overlayThumbWidth-overlayThumbInset, overlayThumbInset))

	drawCaption(canvas, OverlayCaption, image.Rect(0, ph, width, ph+overlayBand))
	return canvas
}

func drawCaption(dst *image.NRGBA, text string, band image.Rectangle) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(captionColor),
		Face: face,
	}
	width := drawer.MeasureString(text).Ceil()

	x := clamp(band.Min.X+(band.Dx()-width)/2, band.Min.X, band.Max.X)
	baseline := clamp(band.Min.Y+(band.Dy()-height)/2+ascent, band.Min.Y+ascent, band.Max.Y)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}
