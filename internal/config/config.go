// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the stream.
const (
	// Stream defaults.
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultFrameRate  = 30
	DefaultBars       = 20
	DefaultOutputPath = "-" // standard output

	// PCM input defaults.
	DefaultSampleRate  = 44100 // CD-quality audio
	DefaultChannels    = 2
	DefaultSampleWidth = 2 // bytes

	// Capture defaults, used when input comes from a PortAudio device.
	DefaultDeviceID        = MinDeviceID // Default to system default device
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultLowLatency      = false

	// Transport defaults.
	DefaultWSAddress           = ":8080"
	DefaultUDPTargetAddress    = "127.0.0.1:9090"
	DefaultUDPSendInterval     = 33 * time.Millisecond // ~30Hz
	DefaultMQTTClientID        = "visualizer"
	DefaultMQTTBandsTopic      = "visualizer/bands"
	DefaultMQTTNowPlayingTopic = "visualizer/nowplaying"

	DefaultLogLevel = "info"
	DefaultBarColor = "#25a065"
	DefaultBarGap   = 1

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxBars         = 256
	MaxFrameRate    = 240
)

// NewConfig returns the built-in defaults. LoadConfig starts from these
// before applying a file and the environment.
func NewConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Stream: StreamConfig{
			Width:     DefaultWidth,
			Height:    DefaultHeight,
			FrameRate: DefaultFrameRate,
			Bars:      DefaultBars,
			Input:     "-",
			Output:    DefaultOutputPath,
		},
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			SampleWidth:     DefaultSampleWidth,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
		},
		Transport: TransportConfig{
			WSAddress:           DefaultWSAddress,
			UDPTargetAddress:    DefaultUDPTargetAddress,
			UDPSendInterval:     DefaultUDPSendInterval,
			MQTTClientID:        DefaultMQTTClientID,
			MQTTBandsTopic:      DefaultMQTTBandsTopic,
			MQTTNowPlayingTopic: DefaultMQTTNowPlayingTopic,
			PublishEvery:        1,
		},
		Render: RenderConfig{
			BarColor: DefaultBarColor,
			BarGap:   DefaultBarGap,
		},
	}
}
