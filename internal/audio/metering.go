// Package audio captures microphone PCM and turns it into loudness readings.
package audio

import "math"

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is the normalized amplitude counted as a clip.
	ClipThreshold = 32760.0 / MaxSampleValue
)

// Levels contains loudness measurements of an analysis window in dBFS.
type Levels struct {
	RMS   float64
	Peak  float64
	Clips int
}

// Meter computes RMS and peak levels of normalized mono samples.
func Meter(samples []float64) Levels {
	if len(samples) == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	var sumSquares, peak float64
	clips := 0
	for _, s := range samples {
		sumSquares += s * s
		a := math.Abs(s)
		peak = max(peak, a)
		if a >= ClipThreshold {
			clips++
		}
	}

	return Levels{
		RMS:   toDB(math.Sqrt(sumSquares / float64(len(samples)))),
		Peak:  toDB(peak),
		Clips: clips,
	}
}

// toDB converts a normalized amplitude to dBFS, floored at MinDB.
func toDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDB
	}
	return max(20*math.Log10(amplitude), MinDB)
}
