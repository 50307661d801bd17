package imageproc

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

const (
	PersonCanvasWidth  = 512
	PersonCanvasHeight = 768
	DressMaxWidth      = 400
	DressMaxHeight     = 600

	enhanceContrast   = 1.1
	enhanceSharpness  = 1.1
	enhanceSaturation = 1.05
)

var canvasWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// PreprocessPerson scales img to fit the person canvas, centers it on white
// and enhances the result. The output is always PersonCanvasWidth x
// PersonCanvasHeight.
func PreprocessPerson(img image.Image) *image.NRGBA {
	src := ToRGB(img)
	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), PersonCanvasWidth, PersonCanvasHeight)
	resized := imaging.Resize(src, w, h, imaging.Lanczos)

	canvas := imaging.New(PersonCanvasWidth, PersonCanvasHeight, canvasWhite)
	canvas = imaging.Paste(canvas, resized, image.Pt((PersonCanvasWidth-w)/2, (PersonCanvasHeight-h)/2))
	return Enhance(canvas)
}

// PreprocessDress shrinks img to fit within DressMaxWidth x DressMaxHeight.
// Smaller images keep their size.
func PreprocessDress(img image.Image) *image.NRGBA {
	src := ToRGB(img)
	return Enhance(imaging.Fit(src, DressMaxWidth, DressMaxHeight, imaging.Lanczos))
}

// Enhance applies the fixed contrast, sharpness and saturation boost.
func Enhance(img image.Image) *image.NRGBA {
	out := Contrast(img, enhanceContrast)
	out = Sharpness(out, enhanceSharpness)
	out = Saturation(out, enhanceSaturation)
	flatten(out)
	return out
}

// Contrast moves every channel away from the mean luminance by factor.
func Contrast(img image.Image, factor float64) *image.NRGBA {
	src := imaging.Clone(img)
	mean := meanLuminance(src)
	gray := imaging.New(src.Bounds().Dx(), src.Bounds().Dy(), color.NRGBA{R: mean, G: mean, B: mean, A: 255})
	return blend(gray, src, factor)
}

// Sharpness blends img against its smoothed version. Factors above 1 sharpen.
func Sharpness(img image.Image, factor float64) *image.NRGBA {
	src := imaging.Clone(img)
	smooth := imaging.Convolve3x3(src, [9]float64{
		1, 1, 1,
		1, 5, 1,
		1, 1, 1,
	}, &imaging.ConvolveOptions{Normalize: true})
	return blend(smooth, src, factor)
}

// Saturation blends img against its grayscale version. Factors above 1
// saturate.
func Saturation(img image.Image, factor float64) *image.NRGBA {
	src := imaging.Clone(img)
	return blend(imaging.Grayscale(src), src, factor)
}

// blend computes degenerate + factor*(img-degenerate) per color channel and
// keeps img's alpha. Both images must have the same bounds.
func blend(degenerate, img *image.NRGBA, factor float64) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	for i := range img.Pix {
		if i%4 == 3 {
			dst.Pix[i] = img.Pix[i]
			continue
		}
		d := float64(degenerate.Pix[i])
		dst.Pix[i] = clampByte(d + factor*(float64(img.Pix[i])-d))
	}
	return dst
}

func meanLuminance(img *image.NRGBA) uint8 {
	n := len(img.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(img.Pix); i += 4 {
		r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
		sum += (299*r + 587*g + 114*b) / 1000
	}
	return clampByte(sum / float64(n))
}

// fitWithin returns the largest size with the aspect ratio of w x h that fits
// in maxW x maxH.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := min(maxW, max(1, int(math.Round(float64(w)*scale))))
	nh := min(maxH, max(1, int(math.Round(float64(h)*scale))))
	return nw, nh
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
