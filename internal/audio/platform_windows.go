//go:build windows

package audio

import (
	"context"
	"regexp"
	"strings"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:    "ffmpeg",
		UsesFFmpeg: true,
		BuildArgs:  buildWindowsArgs,
	}
}

// -nostdin is left out so FFmpeg can still be stopped with 'q'.
func buildWindowsArgs(device string, f Format) []string {
	return ffmpegCaptureArgs("dshow", device, f)
}

var windowsDeviceList = DeviceListConfig{
	Command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
	// FFmpeg versions disagree on section headers, so match "(audio)" lines instead.
	DevicePattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
	ParseDevice: func(matches []string) *Device {
		if len(matches) < 2 {
			return nil
		}
		name := strings.TrimSpace(matches[1])
		return &Device{ID: "audio=" + name, Name: name}
	},
}

// Devices lists DirectShow audio inputs.
func (cfg *CaptureConfig) Devices(ctx context.Context) []Device {
	return listDevices(ctx, windowsDeviceList)
}
