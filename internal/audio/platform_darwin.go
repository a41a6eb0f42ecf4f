//go:build darwin

package audio

import (
	"context"
	"regexp"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs:     buildDarwinArgs,
	}
}

func buildDarwinArgs(device string, f Format) []string {
	return ffmpegCaptureArgs("avfoundation", device, f, "-nostdin")
}

var darwinDeviceList = DeviceListConfig{
	Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
	AudioStartMarker: "AVFoundation audio devices:",
	AudioStopMarker:  "AVFoundation video devices:",
	DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
	ParseDevice: func(matches []string) *Device {
		if len(matches) < 3 {
			return nil
		}
		return &Device{ID: ":" + matches[1], Name: matches[2]}
	},
}

// Devices lists AVFoundation audio inputs.
func (cfg *CaptureConfig) Devices(ctx context.Context) []Device {
	return listDevices(ctx, darwinDeviceList)
}
