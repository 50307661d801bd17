package compose

import (
	"image"
	"math"

	"github.com/dunamismax/fitroom/internal/fitting"
)

// The torso is estimated as a fixed share of a fixed share of the photo; there
// is no body detection.
const (
	bodyRegionRatio = 0.6
	torsoRatio      = 0.6
)

// PlanLayout returns where, in person coordinates, the resized dress goes.
// The rectangle always lies inside a person image of the given size.
func PlanLayout(person image.Point, params fitting.Parameters) image.Rectangle {
	if person.X <= 0 || person.Y <= 0 {
		return image.Rectangle{}
	}

	torsoW := float64(person.X) * bodyRegionRatio * torsoRatio
	torsoH := float64(person.Y) * bodyRegionRatio * torsoRatio

	w := clamp(int(math.Round(torsoW*widthScale(params.BodyType))), 1, person.X)
	h := clamp(int(math.Round(torsoH*heightScale(params.DressStyle))), 1, person.Y)

	x := clamp((person.X-w)/2, 0, person.X-w)
	y := clamp(int(math.Round(float64(person.Y)*verticalOffset(params.DressPosition))), 0, person.Y-h)

	return image.Rect(x, y, x+w, y+h)
}

func widthScale(body fitting.BodyType) float64 {
	switch body {
	case fitting.BodySlim:
		return 0.9
	case fitting.BodyCurvy:
		return 1.1
	case fitting.BodyAthletic:
		return 1.05
	default:
		return 1.0
	}
}

func heightScale(style fitting.DressStyle) float64 {
	switch style {
	case fitting.StyleShort:
		return 0.6
	case fitting.StyleLong:
		return 1.2
	case fitting.StyleMidi:
		return 0.9
	default:
		return 1.0
	}
}

func verticalOffset(position fitting.DressPosition) float64 {
	switch position {
	case fitting.PositionShoulders:
		return 0.15
	case fitting.PositionChest:
		return 0.25
	default:
		return 0.20
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
