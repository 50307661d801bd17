package compose

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/fitroom/internal/fitting"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	return imaging.New(w, h, c)
}

func TestPlanLayoutSlimShortChest(t *testing.T) {
	params := fitting.Parameters{
		BodyType:      fitting.BodySlim,
		DressFit:      fitting.FitRegular,
		DressStyle:    fitting.StyleShort,
		DressPosition: fitting.PositionChest,
	}
	assert.Equal(t, image.Rect(135, 150, 265, 280), PlanLayout(image.Pt(400, 600), params))
}

func TestPlanLayoutDefaults(t *testing.T) {
	rect := PlanLayout(image.Pt(512, 768), fitting.Defaults())
	assert.Equal(t, 184, rect.Dx())
	assert.Equal(t, 276, rect.Dy())
	assert.Equal(t, image.Pt((512-184)/2, 154), rect.Min)
}

func TestPlanLayoutStaysInside(t *testing.T) {
	bodies := []fitting.BodyType{fitting.BodySlim, fitting.BodyCurvy, fitting.BodyAthletic, fitting.BodyAverage}
	styles := []fitting.DressStyle{fitting.StyleShort, fitting.StyleLong, fitting.StyleMidi, fitting.StyleRegular}
	positions := []fitting.DressPosition{fitting.PositionShoulders, fitting.PositionChest, fitting.PositionWaist}
	sizes := []image.Point{{1, 1}, {2, 3}, {7, 5}, {400, 600}, {512, 768}, {1920, 40}, {33, 2000}}

	for _, size := range sizes {
		bounds := image.Rectangle{Max: size}
		for _, b := range bodies {
			for _, s := range styles {
				for _, p := range positions {
					rect := PlanLayout(size, fitting.Parameters{BodyType: b, DressFit: fitting.FitRegular, DressStyle: s, DressPosition: p})
					assert.True(t, rect.In(bounds), "%v %s/%s/%s -> %v", size, b, s, p, rect)
					assert.GreaterOrEqual(t, rect.Dx(), 1)
					assert.GreaterOrEqual(t, rect.Dy(), 1)
				}
			}
		}
	}
}

func TestPlanLayoutEmptyPerson(t *testing.T) {
	assert.True(t, PlanLayout(image.Pt(0, 10), fitting.Defaults()).Empty())
}

func TestAlphaTier(t *testing.T) {
	assert.Equal(t, uint8(217), AlphaTier(255))
	assert.Equal(t, uint8(109), AlphaTier(128))
	assert.Equal(t, uint8(89), AlphaTier(127))
	assert.Equal(t, uint8(0), AlphaTier(0))
}

func TestComposeBlendsDressOntoPerson(t *testing.T) {
	person := solid(400, 600, color.NRGBA{B: 255, A: 255})
	dress := solid(300, 500, color.NRGBA{R: 255, A: 255})

	out, err := Compositor{}.Compose(person, dress, fitting.Defaults(), "")
	require.NoError(t, err)
	assert.Equal(t, person.Bounds(), out.Bounds())
	assert.True(t, out.Opaque())

	rect := PlanLayout(image.Pt(400, 600), fitting.Defaults())
	center := out.NRGBAAt((rect.Min.X+rect.Max.X)/2, (rect.Min.Y+rect.Max.Y)/2)
	assert.Greater(t, center.R, center.B)
	assert.Greater(t, center.B, uint8(0), "dress must not be fully opaque")

	corner := out.NRGBAAt(2, 2)
	assert.Greater(t, corner.B, corner.R)
}

func TestComposeTextSelectsFilters(t *testing.T) {
	person := solid(120, 180, color.NRGBA{R: 90, G: 140, B: 200, A: 255})
	dress := solid(60, 90, color.NRGBA{R: 200, G: 80, B: 120, A: 255})

	plain, err := Compositor{}.Compose(person, dress, fitting.Defaults(), "")
	require.NoError(t, err)
	vibrant, err := Compositor{}.Compose(person, dress, fitting.Defaults(), "A Vibrant red dress")
	require.NoError(t, err)

	assert.NotEqual(t, plain.Pix, vibrant.Pix)
	assert.Equal(t, plain.Bounds(), vibrant.Bounds())
}

func TestComposeSoftTextBlurs(t *testing.T) {
	person := solid(120, 180, color.NRGBA{R: 90, G: 140, B: 200, A: 255})
	dress := solid(60, 90, color.NRGBA{R: 200, G: 80, B: 120, A: 255})

	plain, err := Compositor{}.Compose(person, dress, fitting.Defaults(), "")
	require.NoError(t, err)

	for _, text := range []string{"a soft chiffon layer", "long FLOWING skirt"} {
		blurred, err := Compositor{}.Compose(person, dress, fitting.Defaults(), text)
		require.NoError(t, err, text)
		assert.NotEqual(t, plain.Pix, blurred.Pix, text)
		assert.Equal(t, plain.Bounds(), blurred.Bounds(), text)
		assert.True(t, blurred.Opaque(), text)
	}
}

func TestComposeOversizedDress(t *testing.T) {
	person := solid(100, 150, color.NRGBA{B: 255, A: 255})
	dress := solid(2000, 3000, color.NRGBA{R: 255, A: 255})
	params := fitting.Parameters{
		BodyType:      fitting.BodyCurvy,
		DressFit:      fitting.FitLoose,
		DressStyle:    fitting.StyleLong,
		DressPosition: fitting.PositionShoulders,
	}

	out, err := Compositor{}.Compose(person, dress, params, "vibrant soft flowing")
	require.NoError(t, err)
	assert.Equal(t, person.Bounds(), out.Bounds())
	assert.True(t, out.Opaque())
}

func TestComposeRejectsEmpty(t *testing.T) {
	_, err := Compositor{}.Compose(image.NewNRGBA(image.Rectangle{}), solid(4, 4, color.NRGBA{A: 255}), fitting.Defaults(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestSideBySideDimensions(t *testing.T) {
	out := SideBySide(solid(512, 768, color.NRGBA{R: 10, A: 255}), solid(400, 300, color.NRGBA{G: 10, A: 255}))
	assert.Equal(t, image.Rect(0, 0, 512+400+40, 768+100), out.Bounds())
	assert.Equal(t, sideBySideBackground, out.NRGBAAt(5, 5))
	assert.Equal(t, color.NRGBA{R: 10, A: 255}, out.NRGBAAt(30, 10))
}

func TestOverlayDimensions(t *testing.T) {
	out := Overlay(solid(512, 768, color.NRGBA{R: 10, A: 255}), solid(400, 300, color.NRGBA{G: 200, A: 255}))
	assert.Equal(t, image.Rect(0, 0, 600, 968), out.Bounds())

	thumb := out.NRGBAAt(600-20-75, 20+100)
	assert.Equal(t, uint8(200), thumb.G)

	wide := Overlay(solid(900, 100, color.NRGBA{A: 255}), solid(10, 10, color.NRGBA{A: 255}))
	assert.Equal(t, image.Rect(0, 0, 900, 300), wide.Bounds())
}

func TestParseFallbackMode(t *testing.T) {
	mode, err := ParseFallbackMode("")
	require.NoError(t, err)
	assert.Equal(t, FallbackSideBySide, mode)

	mode, err = ParseFallbackMode(" Overlay ")
	require.NoError(t, err)
	assert.Equal(t, FallbackOverlay, mode)

	_, err = ParseFallbackMode("collage")
	assert.Error(t, err)
}
