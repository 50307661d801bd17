package fitting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDefaults(t *testing.T) {
	assert.Equal(t, Defaults(), Classify(""))
	assert.Equal(t, Defaults(), Classify("A lovely outfit in navy."))
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Parameters
	}{
		{
			name: "slim short chest",
			text: "Her slender frame suits this short dress; the bodice sits at the chest.",
			want: Parameters{BodySlim, FitRegular, StyleShort, PositionChest},
		},
		{
			name: "curvy tight long",
			text: "An HOURGLASS figure in a Form-Fitting floor-length gown cinched at the waist.",
			want: Parameters{BodyCurvy, FitTight, StyleLong, PositionWaist},
		},
		{
			name: "athletic loose midi bust",
			text: "A toned build with a relaxed midi silhouette across the bust.",
			want: Parameters{BodyAthletic, FitLoose, StyleMidi, PositionChest},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassifyPriorityIsPositional(t *testing.T) {
	// Later words name the earlier rules, so text order must not matter.
	text := "curvy yet slim, loose but tight, long and short, chest and shoulder"
	want := Parameters{
		BodyType:      BodySlim,
		DressFit:      FitTight,
		DressStyle:    StyleShort,
		DressPosition: PositionShoulders,
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, want, Classify(text))
	}
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("A VIBRANT red", "vibrant", "bright"))
	assert.False(t, ContainsAny("muted tones", "vibrant", "bright"))
}
