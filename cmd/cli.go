// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"visualizer/internal/config"
	"visualizer/pkg/build"
)

// Invocation is what the command line asked for.
type Invocation struct {
	Config *config.Config

	// ListDevices prints capture devices instead of streaming. With
	// Interactive the picker runs and, on a choice, the stream starts
	// capturing from the picked device.
	ListDevices bool
	Interactive bool
}

// flagValues holds flag values until the config file is loaded; only flags
// given explicitly override the file.
type flagValues struct {
	configPath string

	width, height, frameRate, bars    int
	sampleRate, channels, sampleWidth int
	input, output                     string

	record       string
	wsAddr       string
	udpAddr      string
	mqttBroker   string
	metadataFifo string
	background   string
	device       int
	capture      bool
	lowLatency   bool
	gate         float64
	monitor      bool
	verbose      bool
	logLevel     string
}

// ParseArgs parses args (without the program name). Arguments after the
// flags name a command that receives the stream on its standard input.
func ParseArgs(args []string) (*Invocation, error) {
	buildInfo := build.GetBuildFlags()
	var (
		fv  flagValues
		inv Invocation
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name + " [flags] [command [args...]]",
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.resolve(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if cfg.Stream.Output != config.DefaultOutputPath {
					return fmt.Errorf("a command cannot be combined with output %q", cfg.Stream.Output)
				}
				cfg.Stream.Command = args
			}
			inv.Config = cfg
			return nil
		},
	}
	// Everything after the first positional argument belongs to the command.
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.resolve(cmd)
			if err != nil {
				return err
			}
			inv.Config = cfg
			inv.ListDevices = true
			return nil
		},
	}
	devicesCmd.Flags().BoolVarP(&inv.Interactive, "interactive", "I", false,
		"Pick a device interactively and start capturing from it")
	rootCmd.AddCommand(devicesCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "YAML config file (default ./config.yaml if present)")

	// Stream geometry and format use the classic short flags.
	pf.IntVarP(&fv.width, "width", "w", config.DefaultWidth, "Frame width; width*3 must be a multiple of 4")
	pf.IntVarP(&fv.height, "height", "H", config.DefaultHeight, "Frame height; height*3 must be a multiple of 4")
	pf.IntVarP(&fv.frameRate, "frame-rate", "f", config.DefaultFrameRate, "Video frames per second")
	pf.IntVarP(&fv.bars, "bars", "b", config.DefaultBars, "Number of spectrum bands")

	// PCM format
	pf.IntVarP(&fv.sampleRate, "sample-rate", "r", config.DefaultSampleRate, "Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&fv.channels, "channels", "c", config.DefaultChannels, "Number of channels (1=mono, 2=stereo)")
	pf.IntVarP(&fv.sampleWidth, "sample-width", "s", config.DefaultSampleWidth, "Bytes per sample (1, 2 or 3)")

	// Endpoints
	pf.StringVarP(&fv.input, "input", "i", "-", "PCM input path, - for standard input")
	pf.StringVarP(&fv.output, "output", "o", config.DefaultOutputPath, "Output FIFO path, - for standard output")

	// Capture
	pf.BoolVar(&fv.capture, "capture", false, "Capture from an audio device instead of the input path")
	pf.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Capture device ID (implies --capture). Use the 'devices' command to list them.")
	pf.BoolVarP(&fv.lowLatency, "low-latency", "l", config.DefaultLowLatency, "Use low latency capture")
	pf.Float64Var(&fv.gate, "gate", 0, "Capture noise gate threshold, 0 to 1")

	// Extras
	pf.StringVar(&fv.record, "record", "", "Also write the streamed audio to this WAV file")
	pf.StringVar(&fv.wsAddr, "ws", "", "Serve band data over a websocket on this address (e.g. :8080)")
	pf.StringVar(&fv.udpAddr, "udp", "", "Send band packets to this UDP address")
	pf.StringVar(&fv.mqttBroker, "mqtt", "", "Publish band data to this MQTT broker")
	pf.StringVar(&fv.metadataFifo, "metadata-fifo", "", "Read key=value now-playing updates from this FIFO")
	pf.StringVar(&fv.background, "background", "", "Background image for the bar renderer")
	pf.BoolVar(&fv.monitor, "monitor", false, "Warn when the frame rate falls behind")

	// Debug Configuration
	pf.BoolVarP(&fv.verbose, "verbose", "v", false, "Show verbose output")
	pf.StringVar(&fv.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if inv.Config == nil {
		// --help or --version
		return nil, nil
	}
	return &inv, nil
}

// resolve loads the config file and applies explicitly set flags over it.
func (fv *flagValues) resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(fv.configPath)
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	setInt := func(name string, dst *int, v int) {
		if set(name) {
			*dst = v
		}
	}
	setString := func(name string, dst *string, v string) {
		if set(name) {
			*dst = v
		}
	}

	setInt("width", &cfg.Stream.Width, fv.width)
	setInt("height", &cfg.Stream.Height, fv.height)
	setInt("frame-rate", &cfg.Stream.FrameRate, fv.frameRate)
	setInt("bars", &cfg.Stream.Bars, fv.bars)
	setInt("sample-rate", &cfg.Audio.SampleRate, fv.sampleRate)
	setInt("channels", &cfg.Audio.Channels, fv.channels)
	setInt("sample-width", &cfg.Audio.SampleWidth, fv.sampleWidth)
	setString("input", &cfg.Stream.Input, fv.input)
	setString("output", &cfg.Stream.Output, fv.output)

	if set("device") {
		cfg.Audio.InputDevice = fv.device
		cfg.Audio.Capture = true
	}
	if set("capture") {
		cfg.Audio.Capture = fv.capture
	}
	if set("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}
	if set("gate") {
		cfg.Audio.GateThreshold = fv.gate
	}

	if set("record") {
		cfg.Recording.Enabled = fv.record != ""
		cfg.Recording.Path = fv.record
	}
	if set("ws") {
		cfg.Transport.WSEnabled = fv.wsAddr != ""
		cfg.Transport.WSAddress = fv.wsAddr
	}
	if set("udp") {
		cfg.Transport.UDPEnabled = fv.udpAddr != ""
		cfg.Transport.UDPTargetAddress = fv.udpAddr
	}
	if set("mqtt") {
		cfg.Transport.MQTTEnabled = fv.mqttBroker != ""
		cfg.Transport.MQTTBroker = fv.mqttBroker
	}
	if set("monitor") {
		cfg.Transport.MonitorRate = fv.monitor
	}
	setString("metadata-fifo", &cfg.Metadata.Fifo, fv.metadataFifo)
	setString("background", &cfg.Render.Background, fv.background)

	if fv.verbose {
		cfg.Debug = true
	}
	setString("log-level", &cfg.LogLevel, fv.logLevel)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}
