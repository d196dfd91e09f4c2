// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"visualizer/internal/log"
	"visualizer/internal/metadata"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Shorthand for log_level debug.
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Stream    StreamConfig    `yaml:"stream"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Render    RenderConfig    `yaml:"render"`
}

// StreamConfig describes the video side and where bytes come from and go to.
type StreamConfig struct {
	Width     int      `yaml:"width"`      // Frame width; width*3 must be a multiple of 4.
	Height    int      `yaml:"height"`     // Frame height; height*3 must be a multiple of 4.
	FrameRate int      `yaml:"frame_rate"` // Video frames per second.
	Bars      int      `yaml:"bars"`       // Number of spectrum bands.
	Input     string   `yaml:"input"`      // PCM source path, "-" for standard input.
	Output    string   `yaml:"output"`     // Fifo path, "-" for standard output.
	Command   []string `yaml:"command"`    // Child process fed the stream on its standard input.
}

// AudioConfig holds the PCM format and, for live capture, the device.
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	Channels        int     `yaml:"channels"`          // 1 for mono, 2 for stereo.
	SampleWidth     int     `yaml:"sample_width"`      // Bytes per sample, 1 to 3.
	Capture         bool    `yaml:"capture"`           // Record from a PortAudio device instead of the input path.
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for capture (-1 for default).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Capture callback size in frames.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Capture noise gate, 0 (off) to 1.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Tee the streamed audio to a WAV file.
	Path      string `yaml:"path"`       // Explicit file; overrides output_dir.
	OutputDir string `yaml:"output_dir"` // Directory for timestamped recordings.
}

// TransportConfig holds settings related to sending band data over the network.
type TransportConfig struct {
	WSEnabled bool   `yaml:"ws_enabled"` // Serve band frames over a websocket.
	WSAddress string `yaml:"ws_address"` // Listen address for the websocket server.

	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending band data over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.

	MQTTEnabled         bool   `yaml:"mqtt_enabled"`
	MQTTBroker          string `yaml:"mqtt_broker"` // host:port or tcp://, ssl://, ws:// URL.
	MQTTClientID        string `yaml:"mqtt_client_id"`
	MQTTBandsTopic      string `yaml:"mqtt_bands_topic"`
	MQTTNowPlayingTopic string `yaml:"mqtt_nowplaying_topic"` // Empty disables metadata ingest.
	MQTTQoS             int    `yaml:"mqtt_qos"`

	PublishEvery int  `yaml:"publish_every"` // Send every Nth frame on websocket and MQTT.
	MonitorRate  bool `yaml:"monitor_rate"`  // Warn when the frame rate falls behind.
}

// MetadataConfig sets now-playing fields up front and names the fifo that
// accepts key=value updates.
type MetadataConfig struct {
	Fifo   string `yaml:"fifo"`
	Title  string `yaml:"title"`
	Artist string `yaml:"artist"`
	Album  string `yaml:"album"`
	File   string `yaml:"file"`
	Total  string `yaml:"total"` // Seconds or a Go duration.
}

// RenderConfig styles the built-in bar renderer.
type RenderConfig struct {
	Background string `yaml:"background"` // Image drawn behind the bars.
	BarColor   string `yaml:"bar_color"`  // #rrggbb
	BarGap     int    `yaml:"bar_gap"`    // Pixels between bars.
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		candidates := []string{"config.yaml", "visualizer.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Stream
	check(s.Width > 0 && s.Height > 0, "stream.width and stream.height must be positive")
	check((s.Width*3)%4 == 0, "stream.width %d: width*3 must be a multiple of 4", s.Width)
	check((s.Height*3)%4 == 0, "stream.height %d: height*3 must be a multiple of 4", s.Height)
	check(s.FrameRate > 0 && s.FrameRate <= MaxFrameRate, "stream.frame_rate must be 1 to %d", MaxFrameRate)
	check(s.Bars > 0 && s.Bars <= MaxBars, "stream.bars must be 1 to %d", MaxBars)
	check(s.Output != "", "stream.output must be set (use - for standard output)")

	a := c.Audio
	check(a.SampleRate >= MinSampleRate && a.SampleRate <= MaxSampleRate,
		"audio.sample_rate %d outside %d to %d", a.SampleRate, MinSampleRate, MaxSampleRate)
	check(a.Channels == 1 || a.Channels == 2, "audio.channels must be 1 or 2")
	check(a.SampleWidth >= 1 && a.SampleWidth <= 3, "audio.sample_width must be 1 to 3 bytes")
	check(a.InputDevice >= MinDeviceID, "audio.input_device must be %d or a device index", MinDeviceID)
	check(a.FramesPerBuffer > 0 && a.FramesPerBuffer <= MaxBufferFrames,
		"audio.frames_per_buffer must be 1 to %d", MaxBufferFrames)
	check(a.GateThreshold >= 0 && a.GateThreshold <= 1, "audio.gate_threshold must be 0 to 1")

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q not recognized", c.LogLevel))
	}

	t := c.Transport
	if t.WSEnabled {
		check(t.WSAddress != "", "transport.ws_address must be set when the websocket is enabled")
	}
	if t.UDPEnabled {
		check(strings.Contains(t.UDPTargetAddress, ":"),
			"transport.udp_target_address %q appears invalid (missing port?)", t.UDPTargetAddress)
		check(t.UDPSendInterval > 0, "transport.udp_send_interval must be positive when UDP is enabled")
	}
	if t.MQTTEnabled {
		check(t.MQTTBroker != "", "transport.mqtt_broker must be set when MQTT is enabled")
		check(t.MQTTBandsTopic != "", "transport.mqtt_bands_topic must be set when MQTT is enabled")
	}
	check(t.MQTTQoS >= 0 && t.MQTTQoS <= 2, "transport.mqtt_qos must be 0, 1 or 2")
	check(t.PublishEvery >= 1, "transport.publish_every must be at least 1")

	if c.Metadata.Total != "" {
		if _, err := metadata.ParseDuration(c.Metadata.Total); err != nil {
			errs = append(errs, fmt.Errorf("metadata.total: %w", err))
		}
	}

	if _, err := c.BarBGR(); err != nil {
		errs = append(errs, err)
	}
	check(c.Render.BarGap >= 0, "render.bar_gap must not be negative")

	if c.Recording.Enabled {
		check(c.Recording.Path != "" || c.Recording.OutputDir != "",
			"recording.path or recording.output_dir must be set when recording is enabled")
	}
	return errors.Join(errs...)
}

// BarBGR parses render.bar_color into blue, green, red order.
func (c *Config) BarBGR() ([3]byte, error) {
	hex := strings.TrimPrefix(c.Render.BarColor, "#")
	v, err := strconv.ParseUint(hex, 16, 32)
	if len(hex) != 6 || err != nil {
		return [3]byte{}, fmt.Errorf("render.bar_color %q must be #rrggbb", c.Render.BarColor)
	}
	return [3]byte{byte(v), byte(v >> 8), byte(v >> 16)}, nil
}

// Level resolves the log level, with debug taking precedence.
func (c *Config) Level() log.LogLevel {
	if c.Debug {
		return log.LevelDebug
	}
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// applyEnvOverrides lets ENV_* variables replace file values. Unparseable
// values are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	envBool := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(name); ok {
			if bVal, err := strconv.ParseBool(val); err == nil {
				*dst = bVal
				log.Infof("configuration: Overriding from %s: %v", name, bVal)
			} else {
				log.Warnf("configuration: Ignoring %s=%q: %v", name, val, err)
			}
		}
	}
	envString := func(name string, dst *string) {
		if val, ok := os.LookupEnv(name); ok {
			*dst = val
			log.Infof("configuration: Overriding from %s: %s", name, val)
		}
	}

	// ENV_{...}
	// These are general overrides.
	envBool("ENV_DEBUG", &cfg.Debug)
	envString("ENV_LOG_LEVEL", &cfg.LogLevel)
	envString("ENV_OUTPUT", &cfg.Stream.Output)

	// ENV_WS_{...}
	envBool("ENV_WS_ENABLED", &cfg.Transport.WSEnabled)
	envString("ENV_WS_ADDRESS", &cfg.Transport.WSAddress)

	// ENV_UDP_{...}
	// These are specific to the transport layer.
	envBool("ENV_UDP_ENABLED", &cfg.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", &cfg.Transport.UDPTargetAddress)
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Infof("configuration: Overriding from ENV_UDP_SEND_INTERVAL: %s", dur)
		} else {
			log.Warnf("configuration: Ignoring ENV_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}

	// ENV_MQTT_BROKER also enables MQTT.
	if val, ok := os.LookupEnv("ENV_MQTT_BROKER"); ok {
		cfg.Transport.MQTTBroker = val
		cfg.Transport.MQTTEnabled = val != ""
		log.Infof("configuration: Overriding from ENV_MQTT_BROKER: %s", val)
	}
}
