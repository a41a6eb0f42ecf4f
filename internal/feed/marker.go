package feed

import (
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// Noise color thresholds. Levels above them turn the marker red or amber.
const (
	RedAbove   = 70
	AmberAbove = 40
)

// strokeDarken is how much darker the marker outline is than its fill, in percent.
const strokeDarken = 25

// MarkerFor derives the marker color and influence radius in meters.
// Unknown categories render like other.
func MarkerFor(category types.Category, level int) (types.Color, int) {
	switch category {
	case types.CategoryNoise:
		radius := 50 + 2*level
		switch {
		case level > RedAbove:
			return types.ColorRed, radius
		case level > AmberAbove:
			return types.ColorAmber, radius
		default:
			return types.ColorGreen, radius
		}
	case types.CategorySmoke:
		return types.ColorIndigo, 100
	case types.CategoryGarbage:
		return types.ColorPurple, 80
	default:
		return types.ColorGray, 70
	}
}

// Render derives the marker for one observation.
func Render(o types.Observation) types.Marker {
	color, radius := MarkerFor(o.Category, o.Level)
	category := o.Category
	if !category.Valid() {
		category = types.CategoryOther
	}
	fill := color.Hex()
	return types.Marker{
		ID:          o.ID,
		Category:    category,
		Level:       o.Level,
		Position:    o.Position,
		Description: o.Description,
		RecordedAt:  o.RecordedAt,
		Color:       color,
		Fill:        fill,
		Stroke:      util.DarkenColor(fill, strokeDarken),
		Radius:      radius,
	}
}

// RenderAll derives markers in the order given.
func RenderAll(observations []types.Observation) []types.Marker {
	markers := make([]types.Marker, len(observations))
	for i, o := range observations {
		markers[i] = Render(o)
	}
	return markers
}
