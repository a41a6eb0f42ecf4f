package audio

import "github.com/oszuidwest/zwfm-ecoscan/internal/types"

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier passed to the capture command.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}

// Format describes the raw PCM produced by a capture command.
// Samples are always signed 16-bit little endian, interleaved.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the format every capture backend is asked to produce.
var DefaultFormat = Format{SampleRate: types.SampleRate, Channels: types.Channels}

// FrameSize returns the number of bytes per interleaved frame.
func (f Format) FrameSize() int {
	return 2 * f.Channels
}
