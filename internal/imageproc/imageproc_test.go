package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / max(1, w-1)),
				G: uint8((y * 255) / max(1, h-1)),
				B: 90,
				A: 255,
			})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessPersonCanvasSize(t *testing.T) {
	sizes := []image.Point{{1000, 500}, {300, 900}, {512, 768}, {40, 40}, {2000, 3001}, {600, 700}}
	for _, size := range sizes {
		out := PreprocessPerson(gradient(size.X, size.Y))
		assert.Equal(t, PersonCanvasWidth, out.Bounds().Dx(), "width for %v", size)
		assert.Equal(t, PersonCanvasHeight, out.Bounds().Dy(), "height for %v", size)
		assert.True(t, out.Opaque(), "opaque for %v", size)
	}
}

func TestFitWithinPreservesAspect(t *testing.T) {
	sizes := []image.Point{{1000, 500}, {300, 900}, {513, 769}, {7, 1000}, {1000, 7}, {640, 480}}
	for _, size := range sizes {
		w, h := fitWithin(size.X, size.Y, PersonCanvasWidth, PersonCanvasHeight)
		assert.LessOrEqual(t, w, PersonCanvasWidth)
		assert.LessOrEqual(t, h, PersonCanvasHeight)
		assert.True(t, w == PersonCanvasWidth || h == PersonCanvasHeight, "one side touches the canvas for %v", size)

		wantH := float64(w) * float64(size.Y) / float64(size.X)
		assert.LessOrEqual(t, math.Abs(wantH-float64(h)), 1.0, "aspect for %v", size)
	}
}

func TestPreprocessPersonLetterboxIsWhite(t *testing.T) {
	out := PreprocessPerson(gradient(1000, 500))

	top := out.NRGBAAt(PersonCanvasWidth/2, 5)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, top)

	middle := out.NRGBAAt(PersonCanvasWidth/2, PersonCanvasHeight/2)
	assert.NotEqual(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, middle)
}

func TestPreprocessDressOnlyShrinks(t *testing.T) {
	large := PreprocessDress(gradient(1200, 900))
	assert.Equal(t, image.Rect(0, 0, 400, 300), large.Bounds())

	tall := PreprocessDress(gradient(300, 1200))
	assert.Equal(t, 600, tall.Bounds().Dy())
	assert.Equal(t, 150, tall.Bounds().Dx())

	small := PreprocessDress(gradient(200, 100))
	assert.Equal(t, image.Rect(0, 0, 200, 100), small.Bounds())
	assert.True(t, small.Opaque())
}

func TestPreprocessDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 50, 80))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 10, 10, 40
	}
	out := PreprocessDress(src)
	assert.True(t, out.Opaque())
}

func TestBlendFactorOneIsIdentity(t *testing.T) {
	src := gradient(32, 24)
	assert.Equal(t, src.Pix, Saturation(src, 1).Pix)
	assert.Equal(t, src.Pix, Contrast(src, 1).Pix)
}

func TestSaturationZeroIsGray(t *testing.T) {
	out := Saturation(gradient(16, 16), 0)
	px := out.NRGBAAt(10, 3)
	assert.Equal(t, px.R, px.G)
	assert.Equal(t, px.G, px.B)
}

func TestEnhanceKeepsBounds(t *testing.T) {
	out := Enhance(gradient(64, 40))
	assert.Equal(t, image.Rect(0, 0, 64, 40), out.Bounds())
	assert.True(t, out.Opaque())
}

func TestValidate(t *testing.T) {
	valid := pngBytes(t, gradient(10, 10))

	tests := []struct {
		name       string
		data       []byte
		wantOK     bool
		wantReason string
	}{
		{name: "missing", data: nil, wantOK: false, wantReason: "No image file provided"},
		{name: "too large", data: make([]byte, MaxUploadBytes+1), wantOK: false, wantReason: "File size too large. Maximum allowed: 10MB"},
		{name: "garbage", data: []byte("not an image"), wantOK: false, wantReason: "Invalid image file"},
		{name: "png", data: valid, wantOK: true, wantReason: "Valid image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Validate(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, strings.HasPrefix(reason, tt.wantReason), "reason %q", reason)
		})
	}
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(pngBytes(t, gradient(12, 7)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 12, img.Bounds().Dx())

	_, _, err = Decode([]byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestComparisonDimensions(t *testing.T) {
	out := Comparison(gradient(300, 600), gradient(512, 768))
	assert.Equal(t, 600, out.Bounds().Dy())
	assert.Equal(t, 300+400+comparisonGap, out.Bounds().Dx())
	assert.True(t, out.Opaque())
}

func TestResizeForDisplay(t *testing.T) {
	wide := ResizeForDisplay(gradient(1600, 900), DisplayMaxWidth)
	assert.Equal(t, image.Rect(0, 0, 800, 450), wide.Bounds())

	narrow := ResizeForDisplay(gradient(300, 200), DisplayMaxWidth)
	assert.Equal(t, image.Rect(0, 0, 300, 200), narrow.Bounds())
}

func TestToBase64(t *testing.T) {
	encoded, err := ToBase64(gradient(4, 4))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "iVBORw0KGgo"))
}
