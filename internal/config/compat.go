// SPDX-License-Identifier: MIT
package config

import (
	"path/filepath"
	"time"
)

// DeviceID returns the capture device ID.
func (c *Config) DeviceID() int {
	return c.Audio.InputDevice
}

// Channels returns the number of PCM channels.
func (c *Config) Channels() int {
	return c.Audio.Channels
}

// FramesPerBuffer returns the capture buffer size in frames.
func (c *Config) FramesPerBuffer() int {
	return c.Audio.FramesPerBuffer
}

// SampleRate returns the PCM sample rate.
func (c *Config) SampleRate() int {
	return c.Audio.SampleRate
}

// LowLatency returns whether to use low latency mode
func (c *Config) LowLatency() bool {
	return c.Audio.LowLatency
}

// Capturing reports whether audio comes from a PortAudio device rather than
// the input path.
func (c *Config) Capturing() bool {
	return c.Audio.Capture
}

// RecordingPath is the WAV file for this run, or "" when recording is off.
// Without an explicit path a timestamped name in the output dir is used.
func (c *Config) RecordingPath(now time.Time) string {
	if !c.Recording.Enabled {
		return ""
	}
	if c.Recording.Path != "" {
		return c.Recording.Path
	}
	return filepath.Join(c.Recording.OutputDir,
		"recording-"+now.UTC().Format("02-01-2006-150405")+".wav")
}
