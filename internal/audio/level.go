package audio

import (
	"math"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Level thresholds used for the human readable description.
const (
	ModerateThreshold = 30
	HighThreshold     = 70
)

// LevelFromMagnitudes maps byte frequency magnitudes to a 0..100 noise level:
// the mean magnitude over 256, as a rounded percentage.
func LevelFromMagnitudes(magnitudes []uint8) int {
	if len(magnitudes) == 0 {
		return types.MinLevel
	}
	var sum int
	for _, m := range magnitudes {
		sum += int(m)
	}
	mean := float64(sum) / float64(len(magnitudes))
	level := int(math.Round(mean / 256 * 100))
	return min(max(level, types.MinLevel), types.MaxLevel)
}

// Describe returns a short label for a noise level and the color hint shown next to it.
func Describe(level int) (string, types.Color) {
	switch {
	case level < ModerateThreshold:
		return "Low", types.ColorGreen
	case level < HighThreshold:
		return "Moderate", types.ColorYellow
	default:
		return "High", types.ColorRed
	}
}
