// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"visualizer/cmd"
	"visualizer/internal/analysis"
	"visualizer/internal/audio"
	"visualizer/internal/avi"
	"visualizer/internal/config"
	"visualizer/internal/imageload"
	"visualizer/internal/log"
	"visualizer/internal/metadata"
	"visualizer/internal/render"
	"visualizer/internal/stream"
	"visualizer/internal/transport"
	"visualizer/internal/transport/udp"
	"visualizer/internal/tui"
	"visualizer/pkg/build"
)

// backgroundTag marks image results meant for the bar renderer.
const backgroundTag = 1

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and the config file
//   - Execute one-off commands (device listing) if requested
//   - Build the analyzer, muxer, renderer, taps and transports
//
// 2. Streaming Phase (Hot Path):
//   - The scheduler loop runs on this goroutine until input ends or a
//     termination signal arrives
//
// 3. Shutdown Phase (Cold Path):
//   - Drain buffered frames, then close every sink and source
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Standard output may carry the stream.
	log.SetOutput(os.Stderr)

	if err := build.Initialize(); err != nil {
		log.Debugf("Build information incomplete: %v", err)
	}

	// The stream runs on one goroutine; the rest serve capture, image
	// decoding and network transports.
	runtime.GOMAXPROCS(2)

	inv, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if inv == nil {
		return
	}
	cfg := inv.Config
	log.SetLevel(cfg.Level())

	if inv.ListDevices {
		if !inv.Interactive {
			if err := listDevices(os.Stdout); err != nil {
				log.Fatalf("%v", err)
			}
			return
		}
		sel, err := tui.StartDeviceListUI()
		if err != nil {
			log.Fatalf("%v", err)
		}
		if sel == nil {
			return
		}
		cfg.Audio.Capture = true
		cfg.Audio.InputDevice = sel.DeviceID
		cfg.Audio.SampleRate = sel.SampleRate
		log.Infof("Capturing from %s at %d Hz", sel.Name, sel.SampleRate)
	}

	// ==================== STREAMING PHASE (Hot Path) ====================

	if err := run(context.Background(), cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

func listDevices(w io.Writer) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()
	return audio.ListDevices(w)
}

// run builds the pipeline described by cfg and streams until it stops.
func run(ctx context.Context, cfg *config.Config) (err error) {
	store := metadata.NewStore()
	if err := presetMetadata(store, cfg.Metadata); err != nil {
		return err
	}

	analyzer, err := analysis.New(analysis.Config{
		SampleRate:  cfg.SampleRate(),
		Channels:    cfg.Channels(),
		SampleWidth: cfg.Audio.SampleWidth,
		FrameRate:   cfg.Stream.FrameRate,
		Bands:       cfg.Stream.Bars,
	})
	if err != nil {
		return err
	}

	muxer, err := avi.NewMuxer(avi.Params{
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		FrameRate:   cfg.Stream.FrameRate,
		SampleRate:  cfg.SampleRate(),
		Channels:    cfg.Channels(),
		SampleWidth: cfg.Audio.SampleWidth,
	})
	if err != nil {
		return err
	}

	images := imageload.NewPool(imageload.DefaultQueueLen)
	defer images.Close()

	renderer, err := newRenderer(cfg, images)
	if err != nil {
		return err
	}

	// Everything below registers its cleanup here, run in reverse.
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].Close(); cerr != nil {
				log.Warnf("Shutdown: %v", cerr)
			}
		}
	}()

	taps, tapClosers, err := newTaps(cfg, store)
	closers = append(closers, tapClosers...)
	if err != nil {
		return err
	}

	opts := stream.Options{
		Analyzer: analyzer,
		Muxer:    muxer,
		Renderer: renderer,
		Metadata: store,
		Images:   images,
		Taps:     taps,
		Input:    cfg.Stream.Input,
		Output:   cfg.Stream.Output,
		Command:  cfg.Stream.Command,
	}

	if cfg.Metadata.Fifo != "" {
		src, err := metadata.OpenPipeSource(cfg.Metadata.Fifo, store)
		if err != nil {
			return err
		}
		opts.Source = src
	}

	var capture *audio.Capture
	if cfg.Capturing() {
		capture, err = startCapture(cfg)
		if err != nil {
			if opts.Source != nil {
				opts.Source.Close()
			}
			return err
		}
		closers = append(closers, closerFunc(audio.Terminate), capture)
		opts.InputFile = capture.Reader()
	}

	s, err := stream.New(opts)
	if err != nil {
		if opts.Source != nil {
			opts.Source.Close()
		}
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	runErr := s.Run(ctx)

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if capture != nil {
		// Stop the device first so draining is not chasing live input.
		if err := capture.Stop(); err != nil {
			log.Warnf("Shutdown: %v", err)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, stream.ErrOutputClosed) {
			return fmt.Errorf("output closed: %w", runErr)
		}
		return runErr
	}
	if err := s.Drain(); err != nil {
		return err
	}

	st := s.Stats()
	log.Infof("Streamed %d frames (%d connects, %d bytes dropped while disconnected)",
		st.Frames, st.Connects, st.DroppedBytes)
	return nil
}

func presetMetadata(store *metadata.Store, m config.MetadataConfig) error {
	np := metadata.NowPlaying{
		Title:  m.Title,
		Artist: m.Artist,
		Album:  m.Album,
		File:   m.File,
	}
	if m.Total != "" {
		total, err := metadata.ParseDuration(m.Total)
		if err != nil {
			return err
		}
		np.Total = total
	}
	store.Set(np)
	return nil
}

func newRenderer(cfg *config.Config, images *imageload.Pool) (*render.Bars, error) {
	color, err := cfg.BarBGR()
	if err != nil {
		return nil, err
	}
	opts := []render.BarsOption{
		render.WithColor(render.BGR(color)),
		render.WithGap(cfg.Render.BarGap),
	}
	if cfg.Render.Background != "" {
		opts = append(opts, render.WithBackground(images, cfg.Render.Background, backgroundTag))
	}
	return render.NewBars(cfg.Stream.Width, cfg.Stream.Height, opts...)
}

// newTaps builds the per-frame consumers. The closers are returned even on
// error so that whatever was started gets stopped.
func newTaps(cfg *config.Config, store *metadata.Store) ([]stream.Tap, []io.Closer, error) {
	var (
		taps    []stream.Tap
		closers []io.Closer
	)
	t := cfg.Transport

	if path := cfg.RecordingPath(time.Now()); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return taps, closers, err
		}
		rec, err := audio.NewRecorder(path, cfg.SampleRate(), cfg.Channels(), cfg.Audio.SampleWidth)
		if err != nil {
			return taps, closers, err
		}
		taps = append(taps, rec)
		closers = append(closers, rec)
	}

	if t.MonitorRate {
		taps = append(taps, transport.NewLoggingTransport(cfg.Stream.FrameRate))
	}

	if t.WSEnabled {
		ws := transport.NewWebSocketTransport(t.WSAddress, store)
		taps = append(taps, transport.NewPublisher(ws, t.PublishEvery))
		closers = append(closers, ws)
	}

	if t.MQTTEnabled {
		mq, err := transport.NewMQTTTransport(transport.MQTTConfig{
			Broker:          t.MQTTBroker,
			ClientID:        t.MQTTClientID,
			BandsTopic:      t.MQTTBandsTopic,
			NowPlayingTopic: t.MQTTNowPlayingTopic,
			QoS:             byte(t.MQTTQoS),
		}, store)
		if err != nil {
			return taps, closers, err
		}
		taps = append(taps, transport.NewPublisher(mq, t.PublishEvery))
		closers = append(closers, mq)
	}

	if t.UDPEnabled {
		latest := &transport.Latest{}
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			return taps, closers, err
		}
		closers = append(closers, sender)
		pub, err := udp.NewUDPPublisher(t.UDPSendInterval, sender, latest, cfg.Stream.Bars)
		if err != nil {
			return taps, closers, err
		}
		pub.Start()
		taps = append(taps, latest)
		closers = append(closers, pub)
	}

	return taps, closers, nil
}

func startCapture(cfg *config.Config) (*audio.Capture, error) {
	if err := audio.Initialize(); err != nil {
		return nil, err
	}
	capture, err := audio.NewCapture(audio.CaptureConfig{
		DeviceID:        cfg.DeviceID(),
		SampleRate:      cfg.SampleRate(),
		Channels:        cfg.Channels(),
		SampleWidth:     cfg.Audio.SampleWidth,
		FramesPerBuffer: cfg.FramesPerBuffer(),
		LowLatency:      cfg.LowLatency(),
		GateThreshold:   cfg.Audio.GateThreshold,
	})
	if err == nil {
		err = capture.Start()
	}
	if err != nil {
		if capture != nil {
			capture.Close()
			capture.Reader().Close()
		}
		audio.Terminate()
		return nil, err
	}
	return capture, nil
}
