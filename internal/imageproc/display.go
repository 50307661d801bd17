package imageproc

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	comparisonMaxHeight = 600
	comparisonGap       = 20
	DisplayMaxWidth     = 800
)

// Comparison places original and result next to each other at a shared
// height of at most 600 pixels.
func Comparison(original, result image.Image) *image.NRGBA {
	height := min(original.Bounds().Dy(), result.Bounds().Dy(), comparisonMaxHeight)
	left := scaleToHeight(original, height)
	right := scaleToHeight(result, height)

	canvas := imaging.New(left.Bounds().Dx()+right.Bounds().Dx()+comparisonGap, height, canvasWhite)
	canvas = imaging.Paste(canvas, left, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, right, image.Pt(left.Bounds().Dx()+comparisonGap, 0))
	flatten(canvas)
	return canvas
}

// ResizeForDisplay narrows img to maxWidth, keeping its aspect ratio. Images
// already narrow enough are returned as an RGB copy.
func ResizeForDisplay(img image.Image, maxWidth int) *image.NRGBA {
	if maxWidth <= 0 {
		maxWidth = DisplayMaxWidth
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w <= maxWidth {
		return ToRGB(img)
	}
	height := max(1, int(float64(h)*float64(maxWidth)/float64(w)))
	return ToRGB(imaging.Resize(img, maxWidth, height, imaging.Lanczos))
}

func scaleToHeight(img image.Image, height int) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	width := max(1, int(float64(w)*float64(height)/float64(h)))
	return ToRGB(imaging.Resize(img, width, height, imaging.Lanczos))
}
