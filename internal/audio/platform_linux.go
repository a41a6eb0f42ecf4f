//go:build linux

package audio

import (
	"context"
	"regexp"
	"strconv"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string, f Format) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(f.SampleRate),
		"-c", strconv.Itoa(f.Channels),
		"-t", "raw",
		"-q",
		"-",
	}
}

var linuxDeviceList = DeviceListConfig{
	Command:       []string{"arecord", "-l"},
	DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
	ParseDevice: func(matches []string) *Device {
		if len(matches) < 4 {
			return nil
		}
		return &Device{
			ID:   "default:CARD=" + matches[2],
			Name: matches[3],
		}
	},
	FallbackDevices: []Device{
		{ID: "default", Name: "System default"},
	},
}

// Devices lists ALSA capture cards.
func (cfg *CaptureConfig) Devices(ctx context.Context) []Device {
	return listDevices(ctx, linuxDeviceList)
}
