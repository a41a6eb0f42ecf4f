// Package types provides shared type definitions used across the scanner.
package types

import (
	"fmt"
	"time"
)

// Category classifies what an observation reports.
type Category string

// Supported observation categories.
const (
	CategoryNoise   Category = "noise"
	CategorySmoke   Category = "smoke"
	CategoryGarbage Category = "garbage"
	CategoryOther   Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryNoise, CategorySmoke, CategoryGarbage, CategoryOther}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNoise, CategorySmoke, CategoryGarbage, CategoryOther:
		return true
	}
	return false
}

// ParseCategory converts a raw category string, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Level bounds for observations.
const (
	MinLevel = 0
	MaxLevel = 100
)

// Position is a WGS84 coordinate pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Observation is one persisted environmental report. It is immutable once stored.
type Observation struct {
	ID          string    `json:"id"`
	Category    Category  `json:"type"`
	Level       int       `json:"level"`
	Position              // flattened to lat/lng
	Description string    `json:"description,omitempty"`
	RecordedAt  time.Time `json:"timestamp"`
}

// SamplerState represents the lifecycle state of a noise sampler.
type SamplerState string

const (
	// SamplerIdle indicates no session is held.
	SamplerIdle SamplerState = "idle"
	// SamplerAcquiring indicates the audio input is being opened.
	SamplerAcquiring SamplerState = "acquiring"
	// SamplerSampling indicates ticks are publishing levels.
	SamplerSampling SamplerState = "sampling"
)

// Audio format constants for PCM capture.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of audio channels (stereo).
	Channels = 2
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown of a capture process.
	ShutdownTimeout = 3000 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
)

const (
	// InitialRetryDelay is the starting delay between background retry attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between background retry attempts.
	MaxRetryDelay = 60000 * time.Millisecond
)

// Color is a named marker color.
type Color string

// Marker colors.
const (
	ColorRed    Color = "red"
	ColorAmber  Color = "amber"
	ColorGreen  Color = "green"
	ColorIndigo Color = "indigo"
	ColorPurple Color = "purple"
	ColorGray   Color = "gray"
)

// ColorYellow is the level hint for moderate noise. Markers never use it.
const ColorYellow Color = "yellow"


var colorHex = map[Color]string{
	ColorRed:    "#EF4444",
	ColorAmber:  "#F59E0B",
	ColorGreen:  "#10B981",
	ColorIndigo: "#6366F1",
	ColorPurple: "#8B5CF6",
	ColorGray:   "#94A3B8",
	ColorYellow: "#EAB308",
}

// Hex returns the #RRGGBB value for the color, falling back to gray.
func (c Color) Hex() string {
	if hex, ok := colorHex[c]; ok {
		return hex
	}
	return colorHex[ColorGray]
}

// Marker is the map rendering of one observation.
type Marker struct {
	ID          string    `json:"id"`
	Category    Category  `json:"type"`
	Level       int       `json:"level"`
	Position              // flattened to lat/lng
	Description string    `json:"description,omitempty"`
	RecordedAt  time.Time `json:"timestamp"`
	Color       Color     `json:"color"`
	Fill        string    `json:"fill"`   // #RRGGBB of Color
	Stroke      string    `json:"stroke"` // darker outline
	Radius      int       `json:"radius"` // influence radius in meters
}

// LevelReading is one published sampler tick.
type LevelReading struct {
	// Level is the 0-100 noise level estimate.
	Level int `json:"level"`
	// PeakLevel is the highest level held over the recent hold window.
	PeakLevel int `json:"peak_level"`
	// RMSDB is the RMS level of the analysed window in dBFS.
	RMSDB float64 `json:"rms_db"`
	// PeakDB is the sample peak of the analysed window in dBFS.
	PeakDB float64 `json:"peak_db"`
	// Description is the human label for Level (Low, Moderate, High).
	Description string `json:"description"`
	// Hint is the color shown next to Description.
	Hint Color `json:"hint"`
	// At is when the tick ran.
	At time.Time `json:"at"`
}
