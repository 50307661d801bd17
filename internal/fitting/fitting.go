// Package fitting derives categorical fit descriptors from free text by
// ordered keyword lookup. There is no model behind it: the first table entry
// whose keyword appears in the text wins.
package fitting

import "strings"

type BodyType string

const (
	BodySlim     BodyType = "slim"
	BodyCurvy    BodyType = "curvy"
	BodyAthletic BodyType = "athletic"
	BodyAverage  BodyType = "average"
)

type DressFit string

const (
	FitTight   DressFit = "tight"
	FitLoose   DressFit = "loose"
	FitRegular DressFit = "regular"
)

type DressStyle string

const (
	StyleShort   DressStyle = "short"
	StyleLong    DressStyle = "long"
	StyleMidi    DressStyle = "midi"
	StyleRegular DressStyle = "regular"
)

type DressPosition string

const (
	PositionShoulders DressPosition = "shoulders"
	PositionChest     DressPosition = "chest"
	PositionWaist     DressPosition = "waist"
)

type Parameters struct {
	BodyType      BodyType      `json:"body_type"`
	DressFit      DressFit      `json:"dress_fit"`
	DressStyle    DressStyle    `json:"dress_style"`
	DressPosition DressPosition `json:"dress_position"`
}

// Defaults is the result for text that matches nothing.
func Defaults() Parameters {
	return Parameters{
		BodyType:      BodyAverage,
		DressFit:      FitRegular,
		DressStyle:    StyleRegular,
		DressPosition: PositionWaist,
	}
}

type rule[T ~string] struct {
	category T
	keywords []string
}

// Table order is match priority.
var (
	bodyRules = []rule[BodyType]{
		{BodySlim, []string{"slim", "slender", "petite"}},
		{BodyCurvy, []string{"curvy", "curvaceous", "hourglass", "full-figured", "plus-size"}},
		{BodyAthletic, []string{"athletic", "muscular", "toned", "sporty"}},
	}
	fitRules = []rule[DressFit]{
		{FitTight, []string{"tight", "fitted", "bodycon", "snug", "form-fitting"}},
		{FitLoose, []string{"loose", "relaxed", "oversized", "flowy", "a-line"}},
	}
	styleRules = []rule[DressStyle]{
		{StyleShort, []string{"short", "mini dress", "mini-dress", "above the knee"}},
		{StyleLong, []string{"long", "maxi", "floor-length", "ankle-length", "gown"}},
		{StyleMidi, []string{"midi", "knee-length", "tea-length", "mid-calf"}},
	}
	positionRules = []rule[DressPosition]{
		{PositionShoulders, []string{"shoulder", "neckline", "strapless", "halter"}},
		{PositionChest, []string{"chest", "bust", "bodice", "sweetheart"}},
		{PositionWaist, []string{"waist", "belt", "hip"}},
	}
)

// Classify scans text case-insensitively against each keyword table.
func Classify(text string) Parameters {
	lower := strings.ToLower(text)
	def := Defaults()
	return Parameters{
		BodyType:      match(lower, bodyRules, def.BodyType),
		DressFit:      match(lower, fitRules, def.DressFit),
		DressStyle:    match(lower, styleRules, def.DressStyle),
		DressPosition: match(lower, positionRules, def.DressPosition),
	}
}

// ContainsAny reports whether text contains any of the lowercase keywords,
// ignoring the case of text.
func ContainsAny(text string, keywords ...string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func match[T ~string](lower string, rules []rule[T], fallback T) T {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return fallback
}
